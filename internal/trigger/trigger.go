// Package trigger decides when conversion UI may appear. Each detector
// watches one behaviour signal and fires once, or again after a cooldown
// when so configured. Fired state is persisted so a reload does not fire
// it again.
package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/logging"
)

// Kind tags the behaviour signal a trigger watches.
type Kind string

const (
	KindExitIntent Kind = "exit_intent"
	KindScroll     Kind = "scroll"
	KindTime       Kind = "time"
	KindPageVisits Kind = "page_visits"
)

// Kinds lists every trigger kind.
var Kinds = []Kind{KindExitIntent, KindScroll, KindTime, KindPageVisits}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown trigger type %q", s)
}

// Signals is the raw state of every detector at one instant.
type Signals struct {
	ExitIntent     bool
	ScrollPercent  float64
	ElapsedSeconds int
	PageVisits     int
}

// Spec is a trigger condition: a kind plus the threshold it must reach.
// Exit intent ignores the threshold.
type Spec struct {
	Kind      Kind    `json:"type" yaml:"type" validate:"required,triggerkind"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty" validate:"gte=0"`
}

// Satisfied reports whether sig meets the condition.
func (s Spec) Satisfied(sig Signals) bool {
	switch s.Kind {
	case KindExitIntent:
		return sig.ExitIntent
	case KindScroll:
		return sig.ScrollPercent >= s.Threshold
	case KindTime:
		return float64(sig.ElapsedSeconds) >= s.Threshold
	case KindPageVisits:
		return float64(sig.PageVisits) >= s.Threshold
	default:
		return false
	}
}

// Detector is the common surface of every trigger.
type Detector interface {
	Kind() Kind
	IsTriggered() bool
	// Reset re-arms the detector unless it is a once-only trigger that
	// already fired.
	Reset(ctx context.Context)
	// ForceReset clears all state, persisted or not.
	ForceReset(ctx context.Context)
}

// State is the persisted form of a detector.
type State struct {
	FiredAlready  bool       `json:"firedAlready"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
}

// Option configures detectors.
type Option func(*deps)

type deps struct {
	now    func() time.Time
	sink   analytics.Sink
	logger *zap.Logger
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

// WithSink sets where trigger_fired events go.
func WithSink(s analytics.Sink) Option {
	return func(d *deps) { d.sink = s }
}

// WithLogger sets the logger for swallowed storage errors.
func WithLogger(l *zap.Logger) Option {
	return func(d *deps) { d.logger = l }
}

func newDeps(opts []Option) deps {
	d := deps{now: time.Now}
	for _, opt := range opts {
		opt(&d)
	}
	d.sink = analytics.OrNop(d.sink)
	d.logger = logging.OrNop(d.logger).Named("trigger")
	return d
}

// stateRepo persists a detector's State under trigger:<kind>.
type stateRepo struct {
	repo   kv.Repo[State]
	logger *zap.Logger
}

func newStateRepo(store kv.Store, kind Kind, logger *zap.Logger) stateRepo {
	return stateRepo{repo: kv.NewRepo[State](store, "trigger:"+string(kind)), logger: logger}
}

func (r stateRepo) load(ctx context.Context) State {
	st, _, err := r.repo.Load(ctx)
	if err != nil {
		r.logger.Warn("failed to load trigger state", zap.String("key", r.repo.Key()), zap.Error(err))
	}
	return st
}

func (r stateRepo) save(ctx context.Context, st State) {
	if err := r.repo.Save(ctx, st); err != nil {
		r.logger.Warn("failed to persist trigger state", zap.String("key", r.repo.Key()), zap.Error(err))
	}
}

func (r stateRepo) clear(ctx context.Context) {
	if err := r.repo.Delete(ctx); err != nil {
		r.logger.Warn("failed to clear trigger state", zap.String("key", r.repo.Key()), zap.Error(err))
	}
}
