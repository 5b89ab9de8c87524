package experiment

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/bucketing"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/logging"
	"github.com/headline-goat/growthgoat/internal/stats"
)

const variantsKey = "variants"

// DefaultCacheSize is how many subjects' assignments are kept in memory.
const DefaultCacheSize = 10000

// Assigner hands out sticky variant assignments. Assignments live in the
// subject's profile scope; the result log of each experiment is shared and
// stored one entry per key, so recording an event never rewrites the log.
type Assigner struct {
	mu          sync.Mutex
	experiments map[string]Experiment
	order       []string
	store       kv.Store
	cacheSize   int
	assignments *lru.Cache[string, map[string]string] // subject -> experiment -> variant
	unsaved     map[string]Result                     // result entries whose write failed
	sink        analytics.Sink
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithSink sets where assignment events go.
func WithSink(s analytics.Sink) Option {
	return func(a *Assigner) { a.sink = s }
}

// WithLogger sets the logger for swallowed storage errors.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assigner) { a.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Assigner) { a.now = now }
}

// WithCacheSize bounds the in-memory assignment cache. Evicted subjects
// are reloaded from the store on their next call.
func WithCacheSize(n int) Option {
	return func(a *Assigner) { a.cacheSize = n }
}

// NewAssigner builds an assigner over experiments. Later duplicates of an
// id are ignored.
func NewAssigner(experiments []Experiment, store kv.Store, opts ...Option) *Assigner {
	a := &Assigner{
		experiments: make(map[string]Experiment, len(experiments)),
		store:       store,
		cacheSize:   DefaultCacheSize,
		unsaved:     make(map[string]Result),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cacheSize <= 0 {
		a.cacheSize = DefaultCacheSize
	}
	a.assignments, _ = lru.New[string, map[string]string](a.cacheSize)
	a.sink = analytics.OrNop(a.sink)
	a.logger = logging.OrNop(a.logger).Named("experiment")

	for _, e := range experiments {
		if _, dup := a.experiments[e.ID]; dup {
			continue
		}
		a.experiments[e.ID] = e
		a.order = append(a.order, e.ID)
	}
	return a
}

// Experiments returns the catalog in declared order.
func (a *Assigner) Experiments() []Experiment {
	out := make([]Experiment, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.experiments[id])
	}
	return out
}

// Experiment looks up an experiment by id.
func (a *Assigner) Experiment(id string) (Experiment, bool) {
	e, ok := a.experiments[id]
	return e, ok
}

// GetVariant returns the subject's variant, assigning one on first call.
// It returns false when the experiment is unknown or not running.
func (a *Assigner) GetVariant(ctx context.Context, experimentID, subjectID string) (*Variant, bool) {
	exp, ok := a.experiments[experimentID]
	if !ok || len(exp.Variants) == 0 || !exp.Running(a.now()) {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	assigned := a.assignmentsLocked(ctx, subjectID)
	if id, ok := assigned[experimentID]; ok {
		if v, ok := exp.Variant(id); ok {
			return &v, true
		}
	}

	bucket := bucketing.Bucket(subjectID, experimentID)
	idx := bucketing.Pick(bucket, exp.weights())
	if idx < 0 {
		idx = 0
	}
	v := exp.Variants[idx]
	assigned[experimentID] = v.ID

	repo := kv.NewRepo[map[string]string](kv.ProfileScope(a.store, subjectID), variantsKey)
	if err := repo.Save(ctx, assigned); err != nil {
		a.logger.Warn("failed to persist assignment",
			zap.String("experiment_id", experimentID),
			zap.String("subject_id", subjectID),
			zap.Error(err))
	}

	a.sink.Emit(analytics.EventExperimentAssigned, analytics.Properties{
		"experiment_id": experimentID,
		"variant_id":    v.ID,
		"subject_id":    subjectID,
		"bucket":        bucket,
	})
	return &v, true
}

// Assignment returns the subject's existing variant id without assigning.
func (a *Assigner) Assignment(ctx context.Context, experimentID, subjectID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.assignmentsLocked(ctx, subjectID)[experimentID]
	return id, ok
}

// TrackExposure logs that the subject saw its variant. It does nothing
// when the subject has no assignment.
func (a *Assigner) TrackExposure(ctx context.Context, experimentID, subjectID string) {
	r, ok := a.record(ctx, experimentID, subjectID, false, "", nil)
	if !ok {
		return
	}
	a.sink.Emit(analytics.EventExperimentExposure, analytics.Properties{
		"experiment_id": experimentID,
		"variant_id":    r.VariantID,
		"subject_id":    subjectID,
	})
}

// TrackConversion logs a conversion for the subject's variant. An empty
// goal falls back to the experiment's conversion goal. It does nothing
// when the subject has no assignment.
func (a *Assigner) TrackConversion(ctx context.Context, experimentID, subjectID, goal string, value *float64) {
	if goal == "" {
		goal = a.experiments[experimentID].ConversionGoal
	}
	r, ok := a.record(ctx, experimentID, subjectID, true, goal, value)
	if !ok {
		return
	}
	props := analytics.Properties{
		"experiment_id": experimentID,
		"variant_id":    r.VariantID,
		"subject_id":    subjectID,
		"goal":          goal,
	}
	if value != nil {
		props["value"] = *value
	}
	a.sink.Emit(analytics.EventExperimentConversion, props)
}

// Results reads the experiment's result log, oldest first.
func (a *Assigner) Results(ctx context.Context, experimentID string) []Result {
	prefix := resultsPrefix(experimentID)
	entries, err := a.store.List(ctx, prefix)
	if err != nil {
		a.logger.Warn("failed to load results", zap.String("experiment_id", experimentID), zap.Error(err))
	}

	out := make([]Result, 0, len(entries))
	a.mu.Lock()
	for key, r := range a.unsaved {
		if strings.HasPrefix(key, prefix) {
			out = append(out, r)
		}
	}
	a.mu.Unlock()
	for key, raw := range entries {
		var r Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			a.logger.Warn("skipping corrupt result", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].Timestamp.Equal(out[k].Timestamp) {
			return out[i].Timestamp.Before(out[k].Timestamp)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// GetConversionRates aggregates the result log per variant. Every declared
// variant is present. It returns nil for an unknown experiment.
func (a *Assigner) GetConversionRates(ctx context.Context, experimentID string) map[string]Rate {
	exp, ok := a.experiments[experimentID]
	if !ok {
		return nil
	}

	rates := make(map[string]Rate, len(exp.Variants))
	for _, v := range exp.Variants {
		rates[v.ID] = Rate{}
	}
	for _, r := range a.Results(ctx, experimentID) {
		rate, ok := rates[r.VariantID]
		if !ok {
			continue
		}
		if r.Converted {
			rate.Conversions++
		} else {
			rate.Exposures++
		}
		rates[r.VariantID] = rate
	}
	for id, rate := range rates {
		if rate.Exposures > 0 {
			rate.Rate = float64(rate.Conversions) / float64(rate.Exposures) * 100
		}
		rates[id] = rate
	}
	return rates
}

// Analyze runs the significance read-out over the conversion rates, with
// the first variant as control. It returns nil for an unknown experiment.
func (a *Assigner) Analyze(ctx context.Context, experimentID string) *stats.Result {
	exp, ok := a.experiments[experimentID]
	if !ok {
		return nil
	}
	rates := a.GetConversionRates(ctx, experimentID)
	counts := make([]stats.Count, len(exp.Variants))
	for i, v := range exp.Variants {
		counts[i] = stats.Count{
			VariantID:   v.ID,
			Exposures:   rates[v.ID].Exposures,
			Conversions: rates[v.ID].Conversions,
		}
	}
	return stats.Analyze(counts)
}

// ResetResults drops the experiment's result log.
func (a *Assigner) ResetResults(ctx context.Context, experimentID string) {
	prefix := resultsPrefix(experimentID)
	a.mu.Lock()
	for key := range a.unsaved {
		if strings.HasPrefix(key, prefix) {
			delete(a.unsaved, key)
		}
	}
	a.mu.Unlock()

	entries, err := a.store.List(ctx, prefix)
	if err != nil {
		a.logger.Warn("failed to clear results", zap.String("experiment_id", experimentID), zap.Error(err))
		return
	}
	for key := range entries {
		if err := a.store.Remove(ctx, key); err != nil {
			a.logger.Warn("failed to clear result", zap.String("key", key), zap.Error(err))
		}
	}
}

func (a *Assigner) record(ctx context.Context, experimentID, subjectID string, converted bool, goal string, value *float64) (Result, bool) {
	if _, ok := a.experiments[experimentID]; !ok {
		return Result{}, false
	}

	a.mu.Lock()
	variantID, ok := a.assignmentsLocked(ctx, subjectID)[experimentID]
	a.mu.Unlock()
	if !ok {
		return Result{}, false
	}

	now := a.now()
	r := Result{
		ID:           newResultID(now),
		ExperimentID: experimentID,
		VariantID:    variantID,
		SubjectID:    subjectID,
		Converted:    converted,
		Goal:         goal,
		Value:        value,
		Timestamp:    now,
	}
	repo := kv.NewRepo[Result](a.store, resultsPrefix(experimentID)+r.ID)
	if err := repo.Save(ctx, r); err != nil {
		a.logger.Warn("failed to persist result",
			zap.String("experiment_id", experimentID),
			zap.Bool("converted", converted),
			zap.Error(err))
		a.mu.Lock()
		a.unsaved[repo.Key()] = r
		a.mu.Unlock()
	}
	return r, true
}

func (a *Assigner) assignmentsLocked(ctx context.Context, subjectID string) map[string]string {
	if m, ok := a.assignments.Get(subjectID); ok {
		return m
	}
	repo := kv.NewRepo[map[string]string](kv.ProfileScope(a.store, subjectID), variantsKey)
	m, _, err := repo.Load(ctx)
	if err != nil {
		a.logger.Warn("failed to load assignments", zap.String("subject_id", subjectID), zap.Error(err))
	}
	if m == nil {
		m = make(map[string]string)
	}
	a.assignments.Add(subjectID, m)
	return m
}

// resultsPrefix is the key prefix of the experiment's result entries. Each
// entry is keyed by its ULID, so keys sort in recording order.
func resultsPrefix(experimentID string) string {
	return "experiments:" + experimentID + ":results:"
}

// CachedSubjects reports how many subjects' assignments are held in memory.
func (a *Assigner) CachedSubjects() int {
	return a.assignments.Len()
}
