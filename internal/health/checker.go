// Package health tracks the reachability of the server's dependencies.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	// FailThreshold is the number of consecutive failures after which a
	// dependency is reported degraded.
	FailThreshold int
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// Status is the last known state of one dependency.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"consecutive_failures"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs dependency probes periodically.
type Checker struct {
	mu        sync.Mutex
	probes    map[string]Probe
	status    map[string]*Status
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		probes: make(map[string]Probe),
		status: make(map[string]*Status),
		cfg:    cfg,
		logger: logger,
	}
}

// Add registers a named probe. Dependencies start healthy.
func (h *Checker) Add(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
	h.status[name] = &Status{Healthy: true}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Run probes every CheckInterval until ctx is cancelled.
func (h *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and updates their status.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for name, p := range probes {
		wg.Add(1)
		go func(name string, p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p(pctx)
			cancel()
			h.record(name, err)
		}(name, p)
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.status[name]
	st.CheckedAt = time.Now().UTC()

	if err == nil {
		if !st.Healthy {
			h.logger.Info("health: recovered", zap.String("dependency", name))
		}
		st.Healthy, st.Failures, st.LastError = true, 0, ""
		return
	}

	st.Failures++
	st.LastError = err.Error()
	if st.Healthy && st.Failures >= h.cfg.FailThreshold {
		st.Healthy = false
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", st.Failures),
			zap.Error(err),
		)
	}
}

// Snapshot reports whether every dependency is healthy, with per-dependency
// detail.
func (h *Checker) Snapshot() (bool, map[string]Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.status))
	for name := range h.status {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	out := make(map[string]Status, len(names))
	for _, name := range names {
		st := *h.status[name]
		out[name] = st
		ok = ok && st.Healthy
	}
	return ok, out
}
