package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/kv"
)

// ExitState is the state of the exit-intent machine.
type ExitState string

const (
	ExitArmed       ExitState = "armed"
	ExitFired       ExitState = "fired"
	ExitCoolingDown ExitState = "cooling_down"
)

// ExitIntentConfig configures exit-intent detection.
type ExitIntentConfig struct {
	// Sensitivity is the distance in pixels from the top of the viewport
	// within which a pointer leave counts as exit intent.
	Sensitivity float64 `yaml:"sensitivity" validate:"gte=0"`
	// OnlyOnce keeps the detector fired for the rest of the session.
	OnlyOnce bool `yaml:"only_once"`
	// Cooldown is how long a repeatable detector waits before re-arming.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultExitIntentConfig fires once, within 20px of the top.
func DefaultExitIntentConfig() ExitIntentConfig {
	return ExitIntentConfig{Sensitivity: 20, OnlyOnce: true, Cooldown: 30 * time.Second}
}

// ExitIntent detects the pointer leaving the viewport through the top edge.
type ExitIntent struct {
	mu            sync.Mutex
	cfg           ExitIntentConfig
	state         ExitState
	cooldownUntil time.Time
	repo          stateRepo
	deps          deps
}

// NewExitIntent restores persisted state from store (session scope). cfg
// is used as given: a zero Sensitivity fires only at the top edge.
func NewExitIntent(ctx context.Context, store kv.Store, cfg ExitIntentConfig, opts ...Option) *ExitIntent {
	d := newDeps(opts)
	e := &ExitIntent{
		cfg:   cfg,
		state: ExitArmed,
		repo:  newStateRepo(store, KindExitIntent, d.logger),
		deps:  d,
	}

	st := e.repo.load(ctx)
	switch {
	case st.FiredAlready && cfg.OnlyOnce:
		e.state = ExitFired
	case st.CooldownUntil != nil && d.now().Before(*st.CooldownUntil):
		e.state = ExitCoolingDown
		e.cooldownUntil = *st.CooldownUntil
	}
	return e
}

func (e *ExitIntent) Kind() Kind { return KindExitIntent }

// PointerLeave feeds a mouseleave event. clientY is the pointer's vertical
// position and toElement is true when the pointer moved onto another
// element rather than out of the window. It reports whether this event
// fired the trigger.
func (e *ExitIntent) PointerLeave(ctx context.Context, clientY float64, toElement bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rearmLocked()
	if e.state != ExitArmed {
		return false
	}
	if toElement || clientY > e.cfg.Sensitivity {
		return false
	}

	st := State{FiredAlready: true}
	if e.cfg.OnlyOnce {
		e.state = ExitFired
	} else {
		e.state = ExitCoolingDown
		e.cooldownUntil = e.deps.now().Add(e.cfg.Cooldown)
		until := e.cooldownUntil
		st.CooldownUntil = &until
	}
	e.repo.save(ctx, st)

	e.deps.sink.Emit(analytics.EventTriggerFired, analytics.Properties{
		"trigger":  string(KindExitIntent),
		"client_y": clientY,
	})
	return true
}

// State returns the current machine state.
func (e *ExitIntent) State() ExitState {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rearmLocked()
	return e.state
}

// IsTriggered is true from firing until the detector re-arms.
func (e *ExitIntent) IsTriggered() bool {
	return e.State() != ExitArmed
}

func (e *ExitIntent) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.OnlyOnce && e.state == ExitFired {
		return
	}
	e.state = ExitArmed
	e.cooldownUntil = time.Time{}
	e.repo.clear(ctx)
}

func (e *ExitIntent) ForceReset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = ExitArmed
	e.cooldownUntil = time.Time{}
	e.repo.clear(ctx)
}

func (e *ExitIntent) rearmLocked() {
	if e.state == ExitCoolingDown && !e.deps.now().Before(e.cooldownUntil) {
		e.state = ExitArmed
		e.cooldownUntil = time.Time{}
	}
}
