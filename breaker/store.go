package breaker

import (
	"sort"
	"sync"
	"sync/atomic"
)

// store maps service identity to the current record snapshot. Reads are
// lock-free and may run concurrently with writes; the admission check is
// never slowed by write contention. Writes are restricted to the
// coordinator goroutine; there is no lock to take, so a write token
// trips a panic if two writers ever race, which would mean the
// single-writer funnel has been bypassed.
type store struct {
	records sync.Map // service string -> *Record
	writing atomic.Bool
}

// get returns the current record for service, or false if the service has
// never been referenced.
func (s *store) get(service string) (*Record, bool) {
	v, ok := s.records.Load(service)
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// put installs a new record snapshot. Calling put from anywhere other
// than the coordinator is a programming error and panics.
func (s *store) put(rec *Record) {
	if !s.writing.CompareAndSwap(false, true) {
		panic("breaker: store mutation outside the coordinator")
	}
	s.records.Store(rec.Service, rec)
	s.writing.Store(false)
}

// snapshot returns the current records ordered by service name.
func (s *store) snapshot() []*Record {
	var recs []*Record
	s.records.Range(func(_, v any) bool {
		recs = append(recs, v.(*Record))
		return true
	})
	sort.Slice(recs, func(i, j int) bool { return recs[i].Service < recs[j].Service })
	return recs
}
