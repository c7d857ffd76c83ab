// Package accesslog writes one JSON line per facade request.
package accesslog

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/eniz1806/omnistore/internal/facade"
)

type AccessEntry struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method"`
	Protocol   string    `json:"protocol"`
	Operation  string    `json:"operation"`
	Bucket     string    `json:"bucket,omitempty"`
	Key        string    `json:"key,omitempty"`
	Status     int       `json:"status"`
	BytesIn    int64     `json:"bytes_in"`
	Bytes      int64     `json:"bytes"`
	DurationMS float64   `json:"duration_ms"`
	ClientIP   string    `json:"client_ip"`
}

type AccessLogger struct {
	w   io.WriteCloser
	enc *json.Encoder
	mu  sync.Mutex
}

func NewAccessLogger(path string) (*AccessLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return newAccessLogger(f), nil
}

func newAccessLogger(w io.WriteCloser) *AccessLogger {
	return &AccessLogger{w: w, enc: json.NewEncoder(w)}
}

func (l *AccessLogger) Log(entry AccessEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enc.Encode(entry)
}

// ObserveRequest implements facade.Observer.
func (l *AccessLogger) ObserveRequest(info facade.RequestInfo) {
	l.Log(AccessEntry{
		Time:       info.Time.UTC(),
		RequestID:  info.RequestID,
		Method:     info.Method,
		Protocol:   string(info.Protocol),
		Operation:  string(info.Op),
		Bucket:     info.Bucket,
		Key:        info.Key,
		Status:     info.Status,
		BytesIn:    info.BytesIn,
		Bytes:      info.BytesOut,
		DurationMS: float64(info.Duration.Microseconds()) / 1000,
		ClientIP:   info.ClientIP,
	})
}

func (l *AccessLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
