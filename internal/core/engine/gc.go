package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/core/flood"
	"github.com/floodgate/floodgate/internal/metrics"
	"github.com/floodgate/floodgate/internal/observability"
)

// DefaultGCSchedule runs flood garbage collection once an hour.
const DefaultGCSchedule = "@hourly"

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression or descriptor such as "@every 10m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultGCSchedule
	}
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid gc schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// GarbageCollector purges expired flood events on a cron schedule.
type GarbageCollector struct {
	backend  flood.Backend
	schedule cron.Schedule
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewGarbageCollector validates spec and prepares a stopped collector.
func NewGarbageCollector(backend flood.Backend, spec string) (*GarbageCollector, error) {
	if backend == nil {
		return nil, errors.New("engine: flood backend is required")
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return &GarbageCollector{backend: backend, schedule: schedule}, nil
}

// RunOnce performs a single collection pass.
func (g *GarbageCollector) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	removed, err := g.backend.GarbageCollection(ctx)
	duration := time.Since(start)

	logger := observability.Logger()
	if err != nil {
		if logger != nil {
			logger.Error("Flood garbage collection failed", zap.Error(err), zap.Duration("duration", duration))
		}
		return removed, err
	}

	metrics.RecordFloodGC(removed, duration)
	if logger != nil {
		logger.Debug("Flood garbage collection complete",
			zap.Int64("removed", removed),
			zap.Duration("duration", duration))
	}
	return removed, nil
}

// Start schedules collection passes until ctx is done or Stop is called.
func (g *GarbageCollector) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return errors.New("engine: garbage collector already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(g.schedule, cron.FuncJob(func() {
		_, _ = g.RunOnce(ctx)
	}))
	c.Start()

	g.cron = c
	g.running = true

	go func() {
		<-ctx.Done()
		g.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a pass in progress to finish.
func (g *GarbageCollector) Stop() {
	g.mu.Lock()
	c := g.cron
	g.cron = nil
	g.running = false
	g.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Next reports when the next pass is due after now.
func (g *GarbageCollector) Next(now time.Time) time.Time {
	return g.schedule.Next(now)
}
