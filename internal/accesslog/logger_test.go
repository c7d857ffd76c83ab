package accesslog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eniz1806/omnistore/internal/facade"
)

func TestObserveRequestWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	l, err := NewAccessLogger(path)
	if err != nil {
		t.Fatalf("NewAccessLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ObserveRequest(facade.RequestInfo{
				Time:     time.Now(),
				Method:   "PUT",
				Protocol: facade.ProtoAzure,
				Op:       facade.OpPutObject,
				Bucket:   "media",
				Key:      "clip.mp4",
				Status:   201,
				BytesIn:  2048,
				Duration: 1500 * time.Microsecond,
				ClientIP: "10.0.0.7",
			})
		}()
	}
	wg.Wait()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AccessEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines+1, err)
		}
		if e.Protocol != "azure" || e.Operation != "PutObject" || e.Status != 201 || e.BytesIn != 2048 {
			t.Errorf("entry = %+v", e)
		}
		if e.DurationMS != 1.5 {
			t.Errorf("duration = %v, want 1.5", e.DurationMS)
		}
		lines++
	}
	if lines != 10 {
		t.Errorf("lines = %d, want 10", lines)
	}
}

func TestNewAccessLoggerBadPath(t *testing.T) {
	if _, err := NewAccessLogger(filepath.Join(t.TempDir(), "missing", "access.log")); err == nil {
		t.Error("expected error for missing directory")
	}
}
