package breaker

import (
	"fmt"
	"sync"
	"testing"
)

func TestStoreGetMissing(t *testing.T) {
	var s store
	if _, ok := s.get("nope"); ok {
		t.Fatal("expected miss for an unreferenced service")
	}
}

func TestStorePutThenGet(t *testing.T) {
	var s store
	s.put(newRecord("db"))

	rec, ok := s.get("db")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if rec.Service != "db" || rec.Status != StatusOK {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestStoreSnapshotSorted(t *testing.T) {
	var s store
	for _, name := range []string{"c", "a", "b"} {
		s.put(newRecord(name))
	}

	recs := s.snapshot()
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if recs[i].Service != want {
			t.Fatalf("snapshot[%d] = %s, want %s", i, recs[i].Service, want)
		}
	}
}

func TestStoreConcurrentReadsDuringWrites(t *testing.T) {
	var s store
	s.put(newRecord("db"))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if rec, ok := s.get("db"); !ok || rec.Service != "db" {
					t.Error("read lost the record during writes")
					return
				}
			}
		}()
	}

	// Single writer alongside the readers, as the coordinator runs.
	for i := 0; i < 1000; i++ {
		rec := newRecord("db")
		rec.Errors.Count = i
		s.put(rec)
	}
	close(done)
	wg.Wait()
}

func TestStorePutPanicsOnConcurrentWriters(t *testing.T) {
	var s store
	// Simulate a second writer holding the token.
	s.writing.Store(true)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when the write token is already held")
		}
	}()
	s.put(newRecord("db"))
}

func TestRecordCloneIsIndependent(t *testing.T) {
	rec := newRecord("db")
	rec.Errors.bump()

	cp := rec.clone()
	cp.Errors.bump()
	cp.Status = StatusBlocked

	if rec.Errors.Count != 1 || rec.Status != StatusOK {
		t.Fatalf("clone mutation leaked into the original: %+v", rec)
	}
}

func TestCounterBumpSetsSinceOnce(t *testing.T) {
	var c Counter
	c.bump()
	first := c.Since
	if first.IsZero() {
		t.Fatal("expected Since set on first bump")
	}
	c.bump()
	if !c.Since.Equal(first) {
		t.Fatal("Since must not move on subsequent bumps")
	}
	if c.Count != 2 {
		t.Fatalf("expected count 2, got %d", c.Count)
	}
}

func TestRecordPublicStripsInternals(t *testing.T) {
	rec := newRecord("db")
	rec.resetProbe = func() bool { return true }
	rec.Errors.bump()

	pub := rec.public()
	if pub.resetProbe != nil || pub.timer != nil {
		t.Fatal("public snapshot must not carry coordinator internals")
	}
	if got := fmt.Sprintf("%s/%d", pub.Service, pub.Errors.Count); got != "db/1" {
		t.Fatalf("unexpected public snapshot %s", got)
	}
}
