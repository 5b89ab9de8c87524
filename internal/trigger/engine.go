package trigger

import (
	"context"

	"github.com/headline-goat/growthgoat/internal/kv"
)

// Config sets the thresholds of a session's detectors.
type Config struct {
	ExitIntent      ExitIntentConfig `yaml:"exit_intent"`
	ScrollThreshold float64          `yaml:"scroll_threshold" validate:"gte=0,lte=100"` // percent
	TimeThreshold   int              `yaml:"time_threshold" validate:"gte=0"`           // seconds
	VisitThreshold  int              `yaml:"visit_threshold" validate:"gte=0"`
}

// DefaultConfig matches the landing page defaults.
func DefaultConfig() Config {
	return Config{
		ExitIntent:      DefaultExitIntentConfig(),
		ScrollThreshold: 75,
		TimeThreshold:   30,
		VisitThreshold:  3,
	}
}

// Engine holds the four detectors of one session.
type Engine struct {
	Exit   *ExitIntent
	Scroll *ScrollDepth
	Time   *ElapsedTime
	Visits *PageVisits
}

// NewEngine builds the detectors. session holds fired flags; profile holds
// the visit counter.
func NewEngine(ctx context.Context, session, profile kv.Store, cfg Config, opts ...Option) *Engine {
	return &Engine{
		Exit:   NewExitIntent(ctx, session, cfg.ExitIntent, opts...),
		Scroll: NewScrollDepth(ctx, session, cfg.ScrollThreshold, opts...),
		Time:   NewElapsedTime(ctx, session, cfg.TimeThreshold, opts...),
		Visits: NewPageVisits(ctx, profile, cfg.VisitThreshold, opts...),
	}
}

// Signals snapshots every detector.
func (e *Engine) Signals() Signals {
	return Signals{
		ExitIntent:     e.Exit.IsTriggered(),
		ScrollPercent:  e.Scroll.Max(),
		ElapsedSeconds: e.Time.Seconds(),
		PageVisits:     e.Visits.Count(),
	}
}

// Detectors returns the detectors in a fixed order.
func (e *Engine) Detectors() []Detector {
	return []Detector{e.Exit, e.Scroll, e.Time, e.Visits}
}

// Triggered returns the kinds currently triggered.
func (e *Engine) Triggered() []Kind {
	var kinds []Kind
	for _, d := range e.Detectors() {
		if d.IsTriggered() {
			kinds = append(kinds, d.Kind())
		}
	}
	return kinds
}

// ForceReset clears every detector.
func (e *Engine) ForceReset(ctx context.Context) {
	for _, d := range e.Detectors() {
		d.ForceReset(ctx)
	}
}
