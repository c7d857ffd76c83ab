package transfer

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		header  string
		size    int64
		want    ByteRange
		wantErr error
	}{
		{"bytes=0-9", 10, ByteRange{0, 9}, nil},
		{"bytes=4000-", 10000, ByteRange{4000, 9999}, nil},
		{"bytes=5-5", 10, ByteRange{5, 5}, nil},
		{"bytes=-3", 10, ByteRange{7, 9}, nil},
		{"bytes=-30", 10, ByteRange{0, 9}, nil},
		{" bytes=2-4 ", 10, ByteRange{2, 4}, nil},
		{"bytes=10-10", 10, ByteRange{}, ErrUnsatisfiable},
		{"bytes=10-", 10, ByteRange{}, ErrUnsatisfiable},
		{"bytes=0-10", 10, ByteRange{}, ErrUnsatisfiable},
		{"bytes=-0", 10, ByteRange{}, ErrUnsatisfiable},
		{"bytes=0-", 0, ByteRange{}, ErrUnsatisfiable},
		{"bytes=0-1,4-5", 10, ByteRange{}, ErrMultiRange},
		{"items=0-1", 10, ByteRange{}, ErrMalformedRange},
		{"bytes=abc", 10, ByteRange{}, ErrMalformedRange},
		{"bytes=x-5", 10, ByteRange{}, ErrMalformedRange},
		{"bytes=5-2", 10, ByteRange{}, ErrMalformedRange},
		{"bytes=-", 10, ByteRange{}, ErrMalformedRange},
		{"bytes=--1", 10, ByteRange{}, ErrMalformedRange},
	}
	for _, tt := range tests {
		got, err := ParseRange(tt.header, tt.size)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseRange(%q, %d): err=%v, want %v", tt.header, tt.size, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRange(%q, %d): unexpected error %v", tt.header, tt.size, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRange(%q, %d): got %+v, want %+v", tt.header, tt.size, got, tt.want)
		}
	}
}

func TestContentRangeRoundTrip(t *testing.T) {
	r := ByteRange{Start: 4000, End: 9999}
	h := ContentRange(r, 10000)
	if h != "bytes 4000-9999/10000" {
		t.Fatalf("ContentRange: %s", h)
	}
	got, total, err := ParseContentRange(h)
	if err != nil || got != r || total != 10000 {
		t.Errorf("ParseContentRange: %+v %d %v", got, total, err)
	}
	if r.Length() != 6000 {
		t.Errorf("Length: %d", r.Length())
	}
	for _, bad := range []string{"bytes */10", "bytes 5-2/10", "bytes 0-10/10", "0-1/2"} {
		if _, _, err := ParseContentRange(bad); err == nil {
			t.Errorf("ParseContentRange(%q) should fail", bad)
		}
	}
	if UnsatisfiedRange(7) != "bytes */7" {
		t.Errorf("UnsatisfiedRange: %s", UnsatisfiedRange(7))
	}
	if FromOffset(4000) != "bytes=4000-" {
		t.Errorf("FromOffset: %s", FromOffset(4000))
	}
}

func TestDecideUpload(t *testing.T) {
	local := Object{Size: 100, Fingerprint: "aaa"}
	tests := []struct {
		name   string
		remote *Object
		want   Action
	}{
		{"absent", nil, Full},
		{"identical", &Object{Size: 100, Fingerprint: `"aaa"`}, Skip},
		{"same size different content", &Object{Size: 100, Fingerprint: "bbb"}, Full},
		{"different size", &Object{Size: 99, Fingerprint: "aaa"}, Full},
		{"remote without fingerprint", &Object{Size: 100}, Full},
	}
	for _, tt := range tests {
		if got := DecideUpload(local, tt.remote); got.Action != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got.Action, tt.want)
		}
	}
}

func TestDecideDownload(t *testing.T) {
	remote := Object{Size: 10000, Fingerprint: "abc"}
	tests := []struct {
		name       string
		localSize  int64
		localFP    string
		want       Action
		wantOffset int64
		wantHashed bool
	}{
		{"absent", -1, "", Full, 0, false},
		{"empty", 0, "", Full, 0, false},
		{"partial", 4000, "", Resume, 4000, false},
		{"complete identical", 10000, "abc", Skip, 0, true},
		{"complete different", 10000, "zzz", Full, 0, true},
		{"supersized", 12000, "", Full, 0, false},
	}
	for _, tt := range tests {
		hashed := false
		got, err := DecideDownload(tt.localSize, remote, func() (string, error) {
			hashed = true
			return tt.localFP, nil
		})
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if got.Action != tt.want || got.Offset != tt.wantOffset {
			t.Errorf("%s: got %s@%d, want %s@%d", tt.name, got.Action, got.Offset, tt.want, tt.wantOffset)
		}
		if hashed != tt.wantHashed {
			t.Errorf("%s: hashed=%v, want %v", tt.name, hashed, tt.wantHashed)
		}
	}

	boom := errors.New("read failed")
	if _, err := DecideDownload(10000, remote, func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Errorf("fingerprint error not surfaced: %v", err)
	}
}

func TestResumeRequestsExactOffset(t *testing.T) {
	d, _ := DecideDownload(4000, Object{Size: 10000, Fingerprint: "f"}, nil)
	if d.Action != Resume {
		t.Fatalf("expected resume, got %s", d.Action)
	}
	if h := FromOffset(d.Offset); h != "bytes=4000-" {
		t.Errorf("range header: got %q, want bytes=4000-", h)
	}
}
