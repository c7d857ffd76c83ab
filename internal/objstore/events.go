package objstore

import "time"

// EventType names a change to the store.
type EventType string

const (
	EventObjectCreated EventType = "object.created"
	EventObjectRemoved EventType = "object.removed"
	EventBucketCreated EventType = "bucket.created"
	EventBucketRemoved EventType = "bucket.removed"
)

// Event describes a committed change. Listeners run synchronously on the
// committing goroutine after all locks are released and must not block.
type Event struct {
	Type        EventType `json:"type"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Time        time.Time `json:"time"`
}

// Subscribe registers fn to receive every committed change. It must be
// called before the store is shared between goroutines.
func (s *Store) Subscribe(fn func(Event)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	for _, fn := range s.listeners {
		fn(ev)
	}
}
