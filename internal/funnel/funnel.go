// Package funnel records the steps users take through conversion funnels
// and reports per-step visitors, conversions and drop-off.
package funnel

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/logging"
)

// Step is one stage of a funnel.
type Step struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Funnel is an ordered list of steps.
type Funnel struct {
	ID    string `json:"id" yaml:"id" validate:"required"`
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

func (f Funnel) hasStep(id string) bool {
	for _, s := range f.Steps {
		if s.ID == id {
			return true
		}
	}
	return false
}

// StepRecord is a step a journey went through. TimeSpentMs is the time
// since the journey's previous step.
type StepRecord struct {
	StepID      string            `json:"stepId"`
	Timestamp   time.Time         `json:"timestamp"`
	TimeSpentMs int64             `json:"timeSpentMs"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Journey is what one user did in one session of a funnel.
type Journey struct {
	FunnelID        string            `json:"funnelId"`
	UserID          string            `json:"userId"`
	SessionID       string            `json:"sessionId"`
	Steps           []StepRecord      `json:"steps"`
	Converted       bool              `json:"converted"`
	ConversionValue *float64          `json:"conversionValue,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	StartedAt       time.Time         `json:"startedAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

func (j *Journey) visited(stepID string) (StepRecord, bool) {
	for _, s := range j.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepRecord{}, false
}

// StepMetrics is the read-out of one funnel step. Rates are percentages.
type StepMetrics struct {
	StepID         string  `json:"stepId"`
	Name           string  `json:"name"`
	Visitors       int     `json:"visitors"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
	DropoffRate    float64 `json:"dropoffRate"`
	AverageTimeMs  float64 `json:"averageTimeMs"`
}

// Analytics tracks journeys for a static catalog of funnels. Each journey
// is stored under its own key; journeys whose last write failed are held
// in unsaved until a later write succeeds.
type Analytics struct {
	mu      sync.Mutex
	funnels map[string]Funnel
	order   []string
	store   kv.Store
	unsaved map[string]Journey
	sink    analytics.Sink
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures Analytics.
type Option func(*Analytics)

// WithSink sets where step and conversion events go.
func WithSink(s analytics.Sink) Option {
	return func(a *Analytics) { a.sink = s }
}

// WithLogger sets the logger for swallowed storage errors.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analytics) { a.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Analytics) { a.now = now }
}

// New builds funnel analytics persisting journeys to store.
func New(funnels []Funnel, store kv.Store, opts ...Option) *Analytics {
	a := &Analytics{
		funnels: make(map[string]Funnel, len(funnels)),
		store:   store,
		unsaved: make(map[string]Journey),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.sink = analytics.OrNop(a.sink)
	a.logger = logging.OrNop(a.logger).Named("funnel")

	for _, f := range funnels {
		if _, dup := a.funnels[f.ID]; dup {
			continue
		}
		a.funnels[f.ID] = f
		a.order = append(a.order, f.ID)
	}
	return a
}

// Funnels returns the catalog in declared order.
func (a *Analytics) Funnels() []Funnel {
	out := make([]Funnel, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.funnels[id])
	}
	return out
}

// Funnel looks up a funnel by id.
func (a *Analytics) Funnel(id string) (Funnel, bool) {
	f, ok := a.funnels[id]
	return f, ok
}

func journeysPrefix(funnelID string) string {
	return "funnels:" + funnelID + ":journeys:"
}

func (a *Analytics) journeyRepo(funnelID, userID, sessionID string) kv.Repo[Journey] {
	return kv.NewRepo[Journey](a.store, journeysPrefix(funnelID)+userID+"|"+sessionID)
}

// TrackStep appends stepID to the user's journey, creating the journey on
// the first step of the session. Unknown funnels and steps are ignored.
func (a *Analytics) TrackStep(ctx context.Context, funnelID, stepID, userID, sessionID string, metadata map[string]string) {
	f, ok := a.funnels[funnelID]
	if !ok || !f.hasStep(stepID) {
		a.logger.Debug("ignoring unknown funnel step", zap.String("funnel_id", funnelID), zap.String("step_id", stepID))
		return
	}

	a.mu.Lock()
	repo := a.journeyRepo(funnelID, userID, sessionID)
	j, ok := a.load(ctx, repo)
	now := a.now()
	if !ok {
		j = Journey{FunnelID: funnelID, UserID: userID, SessionID: sessionID, StartedAt: now}
	}

	var elapsed int64
	if n := len(j.Steps); n > 0 {
		elapsed = now.Sub(j.Steps[n-1].Timestamp).Milliseconds()
	}
	j.Steps = append(j.Steps, StepRecord{StepID: stepID, Timestamp: now, TimeSpentMs: elapsed, Metadata: metadata})
	stepCount := len(j.Steps)
	a.save(ctx, repo, j)
	a.mu.Unlock()

	a.sink.Emit(analytics.EventFunnelStep, analytics.Properties{
		"funnel_id":     funnelID,
		"step_id":       stepID,
		"user_id":       userID,
		"session_id":    sessionID,
		"step_number":   stepCount,
		"time_on_step":  elapsed,
		"step_metadata": metadata,
	})
}

// TrackConversion marks the user's journey converted. Repeated calls keep
// the journey converted and overwrite the value. It does nothing when the
// user has no journey in the funnel for this session.
func (a *Analytics) TrackConversion(ctx context.Context, funnelID, userID, sessionID string, value *float64, metadata map[string]string) {
	if _, ok := a.funnels[funnelID]; !ok {
		return
	}

	a.mu.Lock()
	repo := a.journeyRepo(funnelID, userID, sessionID)
	j, ok := a.load(ctx, repo)
	if !ok {
		a.mu.Unlock()
		return
	}
	now := a.now()
	j.Converted = true
	j.ConversionValue = value
	j.CompletedAt = &now
	if metadata != nil {
		j.Metadata = metadata
	}
	steps := len(j.Steps)
	total := now.Sub(j.StartedAt).Milliseconds()
	a.save(ctx, repo, j)
	a.mu.Unlock()

	props := analytics.Properties{
		"funnel_id":       funnelID,
		"user_id":         userID,
		"session_id":      sessionID,
		"steps_completed": steps,
		"total_time_ms":   total,
	}
	if value != nil {
		props["value"] = *value
	}
	a.sink.Emit(analytics.EventFunnelConversion, props)
}

// Journeys returns the funnel's journeys, oldest first.
func (a *Analytics) Journeys(ctx context.Context, funnelID string) []Journey {
	prefix := journeysPrefix(funnelID)
	entries, err := a.store.List(ctx, prefix)
	if err != nil {
		a.logger.Warn("failed to load journeys", zap.String("funnel_id", funnelID), zap.Error(err))
	}

	a.mu.Lock()
	byKey := make(map[string]Journey, len(entries))
	for key, j := range a.unsaved {
		if strings.HasPrefix(key, prefix) {
			byKey[key] = j
		}
	}
	a.mu.Unlock()

	for key, raw := range entries {
		if _, ok := byKey[key]; ok {
			continue
		}
		var j Journey
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			a.logger.Warn("skipping corrupt journey", zap.String("key", key), zap.Error(err))
			continue
		}
		byKey[key] = j
	}

	out := make([]Journey, 0, len(byKey))
	for _, j := range byKey {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].StartedAt.Equal(out[k].StartedAt) {
			return out[i].StartedAt.Before(out[k].StartedAt)
		}
		if out[i].UserID != out[k].UserID {
			return out[i].UserID < out[k].UserID
		}
		return out[i].SessionID < out[k].SessionID
	})
	return out
}

// Metrics computes per-step figures over the funnel's journeys in step
// order. The first step never has drop-off. It returns nil for an unknown
// funnel.
func (a *Analytics) Metrics(ctx context.Context, funnelID string) []StepMetrics {
	f, ok := a.funnels[funnelID]
	if !ok {
		return nil
	}
	journeys := a.Journeys(ctx, funnelID)

	out := make([]StepMetrics, len(f.Steps))
	for i, step := range f.Steps {
		m := StepMetrics{StepID: step.ID, Name: step.Name}
		var totalMs int64
		for k := range journeys {
			rec, ok := journeys[k].visited(step.ID)
			if !ok {
				continue
			}
			m.Visitors++
			totalMs += rec.TimeSpentMs
			if journeys[k].Converted {
				m.Conversions++
			}
		}
		if m.Visitors > 0 {
			m.ConversionRate = float64(m.Conversions) / float64(m.Visitors) * 100
			m.AverageTimeMs = float64(totalMs) / float64(m.Visitors)
		}
		if i > 0 {
			if prev := out[i-1].Visitors; prev > 0 {
				m.DropoffRate = float64(prev-m.Visitors) / float64(prev) * 100
			}
		}
		out[i] = m
	}
	return out
}

// Reset drops every journey of the funnel.
func (a *Analytics) Reset(ctx context.Context, funnelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prefix := journeysPrefix(funnelID)
	for key := range a.unsaved {
		if strings.HasPrefix(key, prefix) {
			delete(a.unsaved, key)
		}
	}
	entries, err := a.store.List(ctx, prefix)
	if err != nil {
		a.logger.Warn("failed to clear journeys", zap.String("funnel_id", funnelID), zap.Error(err))
		return
	}
	for key := range entries {
		if err := a.store.Remove(ctx, key); err != nil {
			a.logger.Warn("failed to clear journey", zap.String("key", key), zap.Error(err))
		}
	}
}

func (a *Analytics) load(ctx context.Context, repo kv.Repo[Journey]) (Journey, bool) {
	if j, ok := a.unsaved[repo.Key()]; ok {
		return j, true
	}
	j, ok, err := repo.Load(ctx)
	if err != nil {
		a.logger.Warn("failed to load journey", zap.String("key", repo.Key()), zap.Error(err))
	}
	return j, ok
}

func (a *Analytics) save(ctx context.Context, repo kv.Repo[Journey], j Journey) {
	if err := repo.Save(ctx, j); err != nil {
		a.logger.Warn("failed to persist journey", zap.String("key", repo.Key()), zap.Error(err))
		a.unsaved[repo.Key()] = j
		return
	}
	delete(a.unsaved, repo.Key())
}
