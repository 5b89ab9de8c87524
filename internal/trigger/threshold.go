package trigger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/kv"
)

// ScrollDepth fires the first time the deepest scroll position reaches
// Threshold percent.
type ScrollDepth struct {
	mu        sync.Mutex
	threshold float64
	max       float64
	fired     bool
	repo      stateRepo
	deps      deps
}

// NewScrollDepth restores the fired flag from store (session scope).
func NewScrollDepth(ctx context.Context, store kv.Store, threshold float64, opts ...Option) *ScrollDepth {
	d := newDeps(opts)
	s := &ScrollDepth{threshold: threshold, repo: newStateRepo(store, KindScroll, d.logger), deps: d}
	s.fired = s.repo.load(ctx).FiredAlready
	return s
}

func (s *ScrollDepth) Kind() Kind { return KindScroll }

// Observe records a scroll position in percent and reports whether it
// fired the trigger.
func (s *ScrollDepth) Observe(ctx context.Context, percent float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if percent > s.max {
		s.max = percent
	}
	if s.fired || s.max < s.threshold {
		return false
	}

	s.fired = true
	s.repo.save(ctx, State{FiredAlready: true})
	s.deps.sink.Emit(analytics.EventTriggerFired, analytics.Properties{
		"trigger": string(KindScroll),
		"percent": s.max,
	})
	return true
}

// Max returns the deepest scroll position seen, in percent.
func (s *ScrollDepth) Max() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

func (s *ScrollDepth) IsTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Reset is a no-op once fired: scroll depth fires once per session.
func (s *ScrollDepth) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fired {
		s.max = 0
	}
}

func (s *ScrollDepth) ForceReset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = 0
	s.fired = false
	s.repo.clear(ctx)
}

// ElapsedTime counts whole seconds since page load and fires the first time
// the count reaches Threshold.
type ElapsedTime struct {
	mu        sync.Mutex
	threshold int
	seconds   int
	fired     bool
	repo      stateRepo
	deps      deps
}

// NewElapsedTime restores the fired flag from store (session scope).
func NewElapsedTime(ctx context.Context, store kv.Store, threshold int, opts ...Option) *ElapsedTime {
	d := newDeps(opts)
	e := &ElapsedTime{threshold: threshold, repo: newStateRepo(store, KindTime, d.logger), deps: d}
	e.fired = e.repo.load(ctx).FiredAlready
	return e
}

func (e *ElapsedTime) Kind() Kind { return KindTime }

// Tick advances the counter by one second and reports whether it fired.
func (e *ElapsedTime) Tick(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seconds++
	if e.fired || e.seconds < e.threshold {
		return false
	}

	e.fired = true
	e.repo.save(ctx, State{FiredAlready: true})
	e.deps.sink.Emit(analytics.EventTriggerFired, analytics.Properties{
		"trigger": string(KindTime),
		"seconds": e.seconds,
	})
	return true
}

// Run ticks once per interval until ctx is cancelled. onFire, if set, is
// called from the ticking goroutine when the trigger fires.
func (e *ElapsedTime) Run(ctx context.Context, interval time.Duration, onFire func()) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Tick(ctx) && onFire != nil {
				onFire()
			}
		}
	}
}

// Seconds returns the elapsed count.
func (e *ElapsedTime) Seconds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seconds
}

func (e *ElapsedTime) IsTriggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// Reset is a no-op once fired: elapsed time fires once per session.
func (e *ElapsedTime) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fired {
		e.seconds = 0
	}
}

func (e *ElapsedTime) ForceReset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seconds = 0
	e.fired = false
	e.repo.clear(ctx)
}

// PageVisits counts page loads for a subject across sessions and is
// triggered while the count is at or above Threshold.
type PageVisits struct {
	mu        sync.Mutex
	threshold int
	count     int
	repo      kv.Repo[int]
	deps      deps
}

// NewPageVisits restores the counter from store (profile scope).
func NewPageVisits(ctx context.Context, store kv.Store, threshold int, opts ...Option) *PageVisits {
	d := newDeps(opts)
	p := &PageVisits{threshold: threshold, repo: kv.NewRepo[int](store, "visits"), deps: d}
	count, _, err := p.repo.Load(ctx)
	if err != nil {
		d.logger.Warn("failed to load visit count", zap.Error(err))
	}
	p.count = count
	return p
}

func (p *PageVisits) Kind() Kind { return KindPageVisits }

// RecordVisit counts one page load. Call it once per load. It reports
// whether this visit is the one that reached the threshold.
func (p *PageVisits) RecordVisit(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++
	if err := p.repo.Save(ctx, p.count); err != nil {
		p.deps.logger.Warn("failed to persist visit count", zap.Error(err))
	}

	if p.count != p.threshold {
		return false
	}
	p.deps.sink.Emit(analytics.EventTriggerFired, analytics.Properties{
		"trigger": string(KindPageVisits),
		"visits":  p.count,
	})
	return true
}

// Count returns the number of recorded visits.
func (p *PageVisits) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *PageVisits) IsTriggered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threshold > 0 && p.count >= p.threshold
}

// Reset leaves the counter alone: visits are history, not arming state.
func (p *PageVisits) Reset(ctx context.Context) {}

// ForceReset zeroes the counter.
func (p *PageVisits) ForceReset(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count = 0
	if err := p.repo.Delete(ctx); err != nil {
		p.deps.logger.Warn("failed to clear visit count", zap.Error(err))
	}
}
