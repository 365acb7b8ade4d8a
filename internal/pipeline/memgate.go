package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// memRecheck is how often a paused batch re-samples memory pressure.
const memRecheck = 5 * time.Second

// MemoryGate pauses batch admission while the process holds too large a
// share of the machine's memory, keeping a long scrape run from pushing
// the host into swap. Readings come from /proc; where they fail the
// gate opens rather than wedging the run.
type MemoryGate struct {
	threshold float64
	logger    *slog.Logger

	totalOnce sync.Once
	totalMem  int64
}

// NewMemoryGate builds a gate that admits work while process RSS stays
// under threshold (a 0..1 fraction) of total memory. A zero threshold
// disables the gate.
func NewMemoryGate(threshold float64, logger *slog.Logger) *MemoryGate {
	return &MemoryGate{
		threshold: threshold,
		logger:    logger.With("component", "memgate"),
	}
}

// Wait blocks until memory pressure drops below the threshold or ctx
// ends.
func (g *MemoryGate) Wait(ctx context.Context) error {
	if g == nil || g.threshold <= 0 {
		return nil
	}
	for {
		frac, ok := g.usage()
		if !ok || frac < g.threshold {
			return nil
		}
		g.logger.Warn("memory pressure high, pausing batch admission",
			slog.Float64("used_fraction", frac),
			slog.Float64("threshold", g.threshold),
		)
		timer := time.NewTimer(memRecheck)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// usage returns process RSS as a fraction of total system memory. ok is
// false when /proc is unreadable.
func (g *MemoryGate) usage() (float64, bool) {
	rss, err := readRSS()
	if err != nil {
		return 0, false
	}
	g.totalOnce.Do(func() {
		total, err := readMemTotal()
		if err != nil {
			return
		}
		g.totalMem = total
	})
	if g.totalMem <= 0 {
		return 0, false
	}
	return float64(rss) / float64(g.totalMem), true
}

// readRSS reads resident set size in bytes from /proc/self/statm.
func readRSS() (int64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("pipeline: unexpected statm format")
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pipeline: parse statm rss: %w", err)
	}
	return pages * int64(os.Getpagesize()), nil
}

// readMemTotal reads total system memory in bytes from /proc/meminfo.
func readMemTotal() (int64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("pipeline: parse meminfo total: %w", err)
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("pipeline: MemTotal not found in /proc/meminfo")
}
