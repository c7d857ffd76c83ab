package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
)

func encoded(t *testing.T, bucket string) []byte {
	t.Helper()
	payload, err := Encode(objectCreated(bucket, "k"))
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestKafkaMessage(t *testing.T) {
	msg := kafkaMessage(encoded(t, "media"))
	if string(msg.Key) != "media" {
		t.Errorf("key = %q, want media", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers[headerEvent] != "s3:ObjectCreated:Put" {
		t.Errorf("event header = %q", headers[headerEvent])
	}
	if headers["content-type"] != "application/json" {
		t.Errorf("content-type header = %q", headers["content-type"])
	}
}

func TestKafkaCodec(t *testing.T) {
	tests := map[string]kafka.Compression{
		"":       0,
		"none":   0,
		"gzip":   kafka.Gzip,
		"snappy": kafka.Snappy,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
	}
	for name, want := range tests {
		if got := kafkaCodec(name); got != want {
			t.Errorf("kafkaCodec(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestKafkaBackendName(t *testing.T) {
	k := NewKafkaBackend([]string{"127.0.0.1:9092"}, "omnistore-events", "snappy")
	defer k.Close()
	if k.Name() != "kafka:omnistore-events" {
		t.Errorf("Name = %q", k.Name())
	}
}

func TestNATSMessage(t *testing.T) {
	payload := encoded(t, "web.assets")

	msg := natsMessage("omnistore.events", false, payload)
	if msg.Subject != "omnistore.events" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.Header.Get(headerEvent) != "s3:ObjectCreated:Put" {
		t.Errorf("event header = %q", msg.Header.Get(headerEvent))
	}
	if string(msg.Data) != string(payload) {
		t.Error("payload not carried as message data")
	}

	msg = natsMessage("omnistore.events", true, payload)
	if msg.Subject != "omnistore.events.web_assets" {
		t.Errorf("per-bucket subject = %q", msg.Subject)
	}

	msg = natsMessage("omnistore.events", true, []byte("{}"))
	if msg.Subject != "omnistore.events" {
		t.Errorf("subject without bucket = %q", msg.Subject)
	}
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"media":     "media",
		"a.b":       "a_b",
		"logs*":     "logs_",
		"x>y z":     "x_y_z",
		"with-dash": "with-dash",
	}
	for in, want := range tests {
		if got := subjectToken(in); got != want {
			t.Errorf("subjectToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewNATSBackendUnreachable(t *testing.T) {
	_, err := NewNATSBackend("nats://127.0.0.1:1", "omnistore.events", false)
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !strings.Contains(err.Error(), "nats connect") {
		t.Errorf("error = %v", err)
	}
}

func TestRedisListKey(t *testing.T) {
	tests := []struct {
		pattern, bucket, want string
	}{
		{"omnistore:events", "media", "omnistore:events"},
		{"omnistore:{bucket}:events", "media", "omnistore:media:events"},
		{"omnistore:{bucket}:events", "", "omnistore:_:events"},
		{"", "media", ""},
	}
	for _, tt := range tests {
		r := &RedisBackend{opts: RedisOptions{ListKey: tt.pattern}}
		if got := r.listKey(tt.bucket); got != tt.want {
			t.Errorf("listKey(%q, %q) = %q, want %q", tt.pattern, tt.bucket, got, tt.want)
		}
	}
}

func TestRedisPublishWithoutTargets(t *testing.T) {
	// Nothing configured: no round trip, so the unreachable address is never dialed.
	r := NewRedisBackend(RedisOptions{Addr: "127.0.0.1:1"})
	defer r.Close()
	if err := r.Publish(context.Background(), encoded(t, "media")); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if r.Name() != "redis:127.0.0.1:1" {
		t.Errorf("Name = %q", r.Name())
	}
}
