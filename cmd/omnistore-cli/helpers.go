package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/eniz1806/omnistore/internal/client"
	"github.com/eniz1806/omnistore/internal/transfer"
)

// progressThreshold is the smallest transfer that gets a progress line.
const progressThreshold = 1 << 20

// printTable prints data in a formatted table.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	fmt.Fprintln(tw, strings.Repeat("-\t", len(headers)))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// progressLine redraws a single status line on w. Lines for transfers
// below progressThreshold are suppressed.
type progressLine struct {
	mu    sync.Mutex
	w     io.Writer
	drawn bool
	last  int
}

func newProgressLine(w io.Writer) *progressLine {
	return &progressLine{w: w, last: -1}
}

func (p *progressLine) update(done, total int64) {
	if total < progressThreshold {
		return
	}
	pct := int(float64(done) / float64(total) * 100)
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct == p.last {
		return
	}
	p.last = pct
	p.drawn = true
	fmt.Fprintf(p.w, "\r  Progress: %3d%% (%s / %s)", pct, formatSize(done), formatSize(total))
}

func (p *progressLine) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
	p.last = -1
}

func (p *progressLine) fn() client.ProgressFunc {
	return p.update
}

func formatSize(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// describe renders a transfer result for humans.
func describe(verb string, res client.Result) string {
	switch res.Action {
	case transfer.Skip:
		return fmt.Sprintf("unchanged (%s, %s)", formatSize(res.Size), res.Fingerprint)
	case transfer.Resume:
		return fmt.Sprintf("%s %s, resumed (%s sent this run, %d attempt(s))",
			verb, formatSize(res.Size), formatSize(res.Bytes), res.Attempts)
	}
	return fmt.Sprintf("%s %s (%d attempt(s))", verb, formatSize(res.Size), res.Attempts)
}

func wantArgs(fs interface{ Args() []string }, usage string, min, max int) ([]string, error) {
	args := fs.Args()
	if len(args) < min || len(args) > max {
		return nil, fmt.Errorf("usage: omnistore-cli %s", usage)
	}
	return args, nil
}
