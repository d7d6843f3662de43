// Package main provides a deliberately unreliable upstream for testing
// breakerd. It fails a configurable fraction of requests and can add
// latency, useful for exercising thresholds, call timeouts, and recovery.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	name := flag.String("name", "flaky", "service name")
	failRate := flag.Float64("fail-rate", 0.0, "fraction of requests answered with 500 (0.0-1.0)")
	latency := flag.Duration("latency", 0, "artificial delay added to every request")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}
	if n := os.Getenv("SERVICE_NAME"); n != "" {
		*name = n
	}

	// Runtime failure-rate knob, adjustable while a test runs.
	var rateBits atomic.Uint64
	rateBits.Store(floatBits(*failRate))

	// /__fail/{rate} changes the failure rate on the fly.
	// Example: POST /__fail/0.8 makes 80% of requests fail.
	http.HandleFunc("/__fail/", func(w http.ResponseWriter, r *http.Request) {
		rateStr := strings.TrimPrefix(r.URL.Path, "/__fail/")
		rate, err := strconv.ParseFloat(rateStr, 64)
		if err != nil || rate < 0 || rate > 1 {
			http.Error(w, "rate must be between 0 and 1", http.StatusBadRequest)
			return
		}
		rateBits.Store(floatBits(rate))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":   *name,
			"fail_rate": rate,
		})
	})

	// /__status/{code} returns an arbitrary HTTP status code.
	http.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		codeStr := strings.TrimPrefix(r.URL.Path, "/__status/")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 599 {
			code = 500
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":        *name,
			"requested_code": code,
			"message":        http.StatusText(code),
		})
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *latency > 0 {
			time.Sleep(*latency)
		}

		rate := bitsFloat(rateBits.Load())
		failed := rate > 0 && rand.Float64() < rate

		status := http.StatusOK
		if failed {
			status = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":   *name,
			"method":    r.Method,
			"path":      r.URL.Path,
			"failed":    failed,
			"fail_rate": rate,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s listening on %s (fail-rate=%.2f, latency=%s)", *name, addr, *failRate, *latency)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func floatBits(f float64) uint64 { return math.Float64bits(f) }
func bitsFloat(b uint64) float64 { return math.Float64frombits(b) }
