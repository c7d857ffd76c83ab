package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eniz1806/omnistore/internal/facade"
)

// StatsSource reports store totals. objstore.Store implements it.
type StatsSource interface {
	Stats() (buckets, objects int, totalBytes int64, err error)
}

// Collector tracks request metrics and exposes Prometheus-compatible /metrics.
type Collector struct {
	stats StatsSource

	// Request counters by method
	requestsTotal [methodCount]atomic.Int64
	requestErrors atomic.Int64
	bytesIn       atomic.Int64
	bytesOut      atomic.Int64
	startTime     time.Time

	latencyCount atomic.Int64
	latencySumUS atomic.Int64

	orphansRemoved atomic.Int64
	missingBlobs   atomic.Int64
	eventsDropped  atomic.Int64

	mu         sync.Mutex
	byProtocol map[facade.Protocol]int64
}

// HTTP method indices for counter array
const (
	mGET = iota
	mPUT
	mDELETE
	mHEAD
	mPOST
	mPROPFIND
	mMKCOL
	mOPTIONS
	mOTHER
	methodCount
)

var methodLabels = [methodCount]string{"GET", "PUT", "DELETE", "HEAD", "POST", "PROPFIND", "MKCOL", "OPTIONS", "OTHER"}

func methodIndex(method string) int {
	for i, m := range methodLabels[:mOTHER] {
		if m == method {
			return i
		}
	}
	return mOTHER
}

func NewCollector(stats StatsSource) *Collector {
	return &Collector{
		stats:      stats,
		startTime:  time.Now(),
		byProtocol: make(map[facade.Protocol]int64),
	}
}

// StartTime returns when the collector was created (server start time).
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// ObserveRequest implements facade.Observer.
func (c *Collector) ObserveRequest(info facade.RequestInfo) {
	c.requestsTotal[methodIndex(info.Method)].Add(1)
	if info.Status >= 400 {
		c.requestErrors.Add(1)
	}
	c.bytesIn.Add(info.BytesIn)
	c.bytesOut.Add(info.BytesOut)
	c.mu.Lock()
	c.byProtocol[info.Protocol]++
	c.mu.Unlock()
}

// RecordLatency implements middleware.LatencyRecorder.
func (c *Collector) RecordLatency(d time.Duration) {
	c.latencyCount.Add(1)
	c.latencySumUS.Add(d.Microseconds())
}

// RecordReconcile adds the outcome of one reconciliation sweep.
func (c *Collector) RecordReconcile(orphansRemoved, missingBlobs int) {
	c.orphansRemoved.Add(int64(orphansRemoved))
	c.missingBlobs.Add(int64(missingBlobs))
}

// RecordEventDropped counts a change event the dispatcher could not queue.
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Add(1)
}

// ServeHTTP handles GET /metrics in Prometheus exposition format.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var totalRequests int64
	for i := 0; i < methodCount; i++ {
		v := c.requestsTotal[i].Load()
		totalRequests += v
		fmt.Fprintf(w, "omnistore_requests_total{method=%q} %d\n", methodLabels[i], v)
	}
	c.mu.Lock()
	protos := make([]string, 0, len(c.byProtocol))
	counts := make(map[string]int64, len(c.byProtocol))
	for p, n := range c.byProtocol {
		protos = append(protos, string(p))
		counts[string(p)] = n
	}
	c.mu.Unlock()
	sort.Strings(protos)
	for _, p := range protos {
		fmt.Fprintf(w, "omnistore_protocol_requests_total{protocol=%q} %d\n", p, counts[p])
	}
	fmt.Fprintf(w, "omnistore_requests_total_sum %d\n", totalRequests)
	fmt.Fprintf(w, "omnistore_request_errors_total %d\n", c.requestErrors.Load())
	fmt.Fprintf(w, "omnistore_bytes_received_total %d\n", c.bytesIn.Load())
	fmt.Fprintf(w, "omnistore_bytes_sent_total %d\n", c.bytesOut.Load())
	fmt.Fprintf(w, "omnistore_request_duration_seconds_sum %.6f\n", float64(c.latencySumUS.Load())/1e6)
	fmt.Fprintf(w, "omnistore_request_duration_seconds_count %d\n", c.latencyCount.Load())

	fmt.Fprintf(w, "omnistore_uptime_seconds %.0f\n", time.Since(c.startTime).Seconds())

	if buckets, objects, size, err := c.stats.Stats(); err == nil {
		fmt.Fprintf(w, "omnistore_buckets_total %d\n", buckets)
		fmt.Fprintf(w, "omnistore_objects_total %d\n", objects)
		fmt.Fprintf(w, "omnistore_storage_size_bytes_total %d\n", size)
	}
	fmt.Fprintf(w, "omnistore_reconcile_orphans_removed_total %d\n", c.orphansRemoved.Load())
	fmt.Fprintf(w, "omnistore_reconcile_missing_blobs_total %d\n", c.missingBlobs.Load())
	fmt.Fprintf(w, "omnistore_notify_events_dropped_total %d\n", c.eventsDropped.Load())

	// Go runtime metrics
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(w, "omnistore_go_goroutines %d\n", runtime.NumGoroutine())
	fmt.Fprintf(w, "omnistore_go_memory_alloc_bytes %d\n", mem.Alloc)
	fmt.Fprintf(w, "omnistore_go_memory_sys_bytes %d\n", mem.Sys)
	fmt.Fprintf(w, "omnistore_go_gc_total %d\n", mem.NumGC)
}
