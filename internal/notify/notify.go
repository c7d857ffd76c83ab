// Package notify fans store change events out to message brokers and
// webhooks. Delivery is asynchronous; a slow or failing backend never holds
// up the request that caused the event.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eniz1806/omnistore/internal/objstore"
)

// S3Event matches the AWS S3 event notification JSON format.
type S3Event struct {
	Records []S3EventRecord `json:"Records"`
}

type S3EventRecord struct {
	EventVersion string   `json:"eventVersion"`
	EventSource  string   `json:"eventSource"`
	EventTime    string   `json:"eventTime"`
	EventName    string   `json:"eventName"`
	S3           S3Detail `json:"s3"`
}

type S3Detail struct {
	Bucket S3Bucket `json:"bucket"`
	Object S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
}

type S3Object struct {
	Key  string `json:"key,omitempty"`
	Size int64  `json:"size,omitempty"`
	ETag string `json:"eTag,omitempty"`
}

// Backend is the interface for notification delivery backends.
type Backend interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// EventName maps a store event to its S3-style event name.
func EventName(t objstore.EventType) string {
	switch t {
	case objstore.EventObjectCreated:
		return "s3:ObjectCreated:Put"
	case objstore.EventObjectRemoved:
		return "s3:ObjectRemoved:Delete"
	case objstore.EventBucketCreated:
		return "s3:BucketCreated"
	case objstore.EventBucketRemoved:
		return "s3:BucketRemoved"
	}
	return "s3:" + string(t)
}

// Encode renders ev as an S3 event notification document.
func Encode(ev objstore.Event) ([]byte, error) {
	return json.Marshal(S3Event{
		Records: []S3EventRecord{{
			EventVersion: "2.1",
			EventSource:  "omnistore",
			EventTime:    ev.Time.UTC().Format(time.RFC3339),
			EventName:    EventName(ev.Type),
			S3: S3Detail{
				Bucket: S3Bucket{Name: ev.Bucket},
				Object: S3Object{Key: ev.Key, Size: ev.Size, ETag: ev.Fingerprint},
			},
		}},
	})
}

type Options struct {
	MaxWorkers int
	QueueSize  int
	// MaxRetries is the number of delivery attempts per backend.
	MaxRetries int
	Timeout    time.Duration
	Backoff    []time.Duration
	// Events filters by S3 event name pattern; empty means every event.
	Events []string
	Logger *slog.Logger
	// OnDrop is called when an event is discarded because the queue is full.
	OnDrop func()
}

type deliveryJob struct {
	backend Backend
	event   string
	payload []byte
}

// Dispatcher handles async delivery with retry.
type Dispatcher struct {
	jobs       chan deliveryJob
	wg         sync.WaitGroup
	maxWorkers int
	maxRetries int
	timeout    time.Duration
	backoff    []time.Duration
	events     []string
	logger     *slog.Logger
	onDrop     func()

	mu       sync.RWMutex
	backends []Backend
	stopped  bool
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		jobs:       make(chan deliveryJob, opts.QueueSize),
		maxWorkers: opts.MaxWorkers,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		backoff:    opts.Backoff,
		events:     opts.Events,
		logger:     opts.Logger,
		onDrop:     opts.OnDrop,
	}
}

// Start launches the workers. Cancelling ctx aborts pending retry waits.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for job := range d.jobs {
				d.deliver(ctx, job)
			}
		}()
	}
}

// AddBackend registers a notification backend.
func (d *Dispatcher) AddBackend(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends = append(d.backends, b)
	d.logger.Info("notification backend registered", "backend", b.Name())
}

// Stop drains queued deliveries and closes every backend. Events dispatched
// afterwards are ignored.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, b := range d.backends {
		if err := b.Close(); err != nil {
			d.logger.Warn("notify backend close failed", "backend", b.Name(), "error", err)
		}
	}
}

// Dispatch queues ev for every backend. It never blocks; when the queue is
// full the delivery is dropped. Suitable as an objstore listener.
func (d *Dispatcher) Dispatch(ev objstore.Event) {
	name := EventName(ev.Type)
	if len(d.events) > 0 && !matchEvent(d.events, name) {
		return
	}
	payload, err := Encode(ev)
	if err != nil {
		d.logger.Error("notify error marshaling event", "error", err)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}
	for _, b := range d.backends {
		select {
		case d.jobs <- deliveryJob{backend: b, event: name, payload: payload}:
		default:
			d.logger.Warn("notify queue full, dropping event",
				"backend", b.Name(), "event", name, "bucket", ev.Bucket, "key", ev.Key)
			if d.onDrop != nil {
				d.onDrop()
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job deliveryJob) {
	var err error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			idx := min(attempt-1, len(d.backoff)-1)
			select {
			case <-ctx.Done():
				d.logger.Warn("notify delivery abandoned", "backend", job.backend.Name(), "event", job.event)
				return
			case <-time.After(d.backoff[idx]):
			}
		}
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		err = job.backend.Publish(pctx, job.payload)
		cancel()
		if err == nil {
			return
		}
		d.logger.Debug("notify publish failed", "backend", job.backend.Name(), "attempt", attempt+1, "error", err)
	}
	d.logger.Error("notify delivery failed after retries",
		"backend", job.backend.Name(), "retries", d.maxRetries, "event", job.event, "error", err)
}

// matchEvent checks if the actual event name matches any of the configured patterns.
func matchEvent(patterns []string, actual string) bool {
	for _, p := range patterns {
		if p == actual {
			return true
		}
		// "s3:ObjectCreated:*" matches "s3:ObjectCreated:Put"
		if strings.HasSuffix(p, ":*") {
			if strings.HasPrefix(actual, p[:len(p)-1]) {
				return true
			}
		}
		if p == "*" || p == "s3:*" {
			return true
		}
	}
	return false
}

// peek extracts the event name and bucket from an encoded event. Both are
// empty when payload is not an event document.
func peek(payload []byte) (event, bucket string) {
	var ev S3Event
	if json.Unmarshal(payload, &ev) != nil || len(ev.Records) == 0 {
		return "", ""
	}
	return ev.Records[0].EventName, ev.Records[0].S3.Bucket.Name
}
