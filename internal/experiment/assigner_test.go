package experiment_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/experiment"
	"github.com/headline-goat/growthgoat/internal/kv"
)

func heroCTA() experiment.Experiment {
	return experiment.Experiment{
		ID:     "hero-cta",
		Name:   "Hero call to action",
		Active: true,
		Variants: []experiment.Variant{
			{ID: "control", Weight: 50},
			{ID: "variant-a", Weight: 50},
		},
		ConversionGoal: "signup",
	}
}

func TestGetVariant_Scenario(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, store)

	// user_abc hashes to bucket 85.01 on hero-cta
	for i := 0; i < 5; i++ {
		v, ok := a.GetVariant(ctx, "hero-cta", "user_abc")
		if !ok {
			t.Fatal("expected a variant")
		}
		if v.ID != "variant-a" {
			t.Fatalf("call %d: got %s, want variant-a", i, v.ID)
		}
	}

	raw, err := store.Get(ctx, "profile:user_abc:variants")
	if err != nil {
		t.Fatalf("assignment not persisted: %v", err)
	}
	if raw != `{"hero-cta":"variant-a"}` {
		t.Errorf("got %s", raw)
	}
}

func TestGetVariant_BucketsBelowFiftyGetControl(t *testing.T) {
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory())
	for _, subject := range []string{"user_xyz", "user_2", "bob"} {
		v, ok := a.GetVariant(context.Background(), "hero-cta", subject)
		if !ok || v.ID != "control" {
			t.Errorf("%s: got (%v, %v), want control", subject, v, ok)
		}
	}
}

func TestGetVariant_StickyAcrossAssigners(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	// pin a variant the hash would not pick
	if err := store.Set(ctx, "profile:user_xyz:variants", `{"hero-cta":"variant-a"}`); err != nil {
		t.Fatal(err)
	}
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, store)
	v, ok := a.GetVariant(ctx, "hero-cta", "user_xyz")
	if !ok || v.ID != "variant-a" {
		t.Errorf("got (%v, %v), want persisted variant-a", v, ok)
	}
}

func TestGetVariant_StaleVariantReassigned(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	if err := store.Set(ctx, "profile:user_xyz:variants", `{"hero-cta":"removed"}`); err != nil {
		t.Fatal(err)
	}

	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, store)
	v, ok := a.GetVariant(ctx, "hero-cta", "user_xyz")
	if !ok || v.ID != "control" {
		t.Errorf("got (%v, %v), want control", v, ok)
	}
}

func TestGetVariant_NotRunning(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	inactive := heroCTA()
	inactive.ID, inactive.Active = "inactive", false
	ended := heroCTA()
	ended.ID, ended.EndDate = "ended", &past
	pending := heroCTA()
	pending.ID, pending.StartDate = "pending", &future
	empty := experiment.Experiment{ID: "empty", Active: true}

	a := experiment.NewAssigner(
		[]experiment.Experiment{inactive, ended, pending, empty},
		kv.NewMemory(),
		experiment.WithClock(func() time.Time { return now }),
	)

	for _, id := range []string{"inactive", "ended", "pending", "empty", "missing"} {
		if v, ok := a.GetVariant(context.Background(), id, "user_abc"); ok || v != nil {
			t.Errorf("%s: got (%v, %v), want none", id, v, ok)
		}
	}
}

func TestGetVariant_WeightProportionality(t *testing.T) {
	if testing.Short() {
		t.Skip("assigns 100k subjects")
	}
	ctx := context.Background()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory())

	const n = 100000
	control := 0
	for i := 0; i < n; i++ {
		v, _ := a.GetVariant(ctx, "hero-cta", fmt.Sprintf("subject-%d", i))
		if v.ID == "control" {
			control++
		}
	}
	share := float64(control) / n * 100
	if share < 47 || share > 53 {
		t.Errorf("control share %.2f%%, want within 3 points of 50", share)
	}
}

func TestGetVariant_StorageFailureStillAssigns(t *testing.T) {
	ctx := context.Background()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory(kv.WithQuota(1)))

	first, ok := a.GetVariant(ctx, "hero-cta", "user_abc")
	if !ok {
		t.Fatal("expected assignment despite quota failure")
	}
	second, _ := a.GetVariant(ctx, "hero-cta", "user_abc")
	if first.ID != second.ID {
		t.Errorf("assignment not kept in memory: %s then %s", first.ID, second.ID)
	}
}

func TestGetVariant_EmitsAssignmentOnce(t *testing.T) {
	rec := analytics.NewRecorder()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory(), experiment.WithSink(rec))

	a.GetVariant(context.Background(), "hero-cta", "user_abc")
	a.GetVariant(context.Background(), "hero-cta", "user_abc")

	events := rec.Named(analytics.EventExperimentAssigned)
	if len(events) != 1 {
		t.Fatalf("got %d assignment events, want 1", len(events))
	}
	if events[0].Properties["variant_id"] != "variant-a" {
		t.Errorf("got %v", events[0].Properties)
	}
}

func TestTrackConversion_NoAssignmentIsNoop(t *testing.T) {
	ctx := context.Background()
	rec := analytics.NewRecorder()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory(), experiment.WithSink(rec))

	a.TrackExposure(ctx, "hero-cta", "nobody")
	a.TrackConversion(ctx, "hero-cta", "nobody", "", nil)
	a.TrackConversion(ctx, "missing", "nobody", "", nil)

	if got := len(a.Results(ctx, "hero-cta")); got != 0 {
		t.Errorf("got %d results, want 0", got)
	}
	if got := len(rec.Events()); got != 0 {
		t.Errorf("got %d events, want 0", got)
	}
}

func TestTrackConversion_RecordsGoalAndValue(t *testing.T) {
	ctx := context.Background()
	rec := analytics.NewRecorder()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory(), experiment.WithSink(rec))

	a.GetVariant(ctx, "hero-cta", "user_abc")
	value := 29.0
	a.TrackConversion(ctx, "hero-cta", "user_abc", "", &value)

	results := a.Results(ctx, "hero-cta")
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if !r.Converted || r.Goal != "signup" || r.VariantID != "variant-a" || r.Value == nil || *r.Value != 29 {
		t.Errorf("got %+v", r)
	}
	if r.ID == "" {
		t.Error("missing result id")
	}

	events := rec.Named(analytics.EventExperimentConversion)
	if len(events) != 1 || events[0].Properties["value"] != 29.0 {
		t.Errorf("got %v", events)
	}
}

func TestGetConversionRates(t *testing.T) {
	ctx := context.Background()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory())

	// user_1 lands in variant-a, the rest in control
	for _, s := range []string{"user_1", "user_2", "user_3", "user_4", "user_5"} {
		a.GetVariant(ctx, "hero-cta", s)
		a.TrackExposure(ctx, "hero-cta", s)
	}
	a.TrackConversion(ctx, "hero-cta", "user_1", "", nil)
	a.TrackConversion(ctx, "hero-cta", "user_2", "", nil)

	rates := a.GetConversionRates(ctx, "hero-cta")
	want := map[string]experiment.Rate{
		"control":   {Exposures: 4, Conversions: 1, Rate: 25},
		"variant-a": {Exposures: 1, Conversions: 1, Rate: 100},
	}
	for id, w := range want {
		if rates[id] != w {
			t.Errorf("%s: got %+v, want %+v", id, rates[id], w)
		}
	}

	if a.GetConversionRates(ctx, "missing") != nil {
		t.Error("expected nil for unknown experiment")
	}
}

func TestGetConversionRates_NoExposures(t *testing.T) {
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory())
	rates := a.GetConversionRates(context.Background(), "hero-cta")
	if len(rates) != 2 {
		t.Fatalf("got %d variants, want 2", len(rates))
	}
	for id, r := range rates {
		if r.Rate != 0 {
			t.Errorf("%s: got rate %v, want 0", id, r.Rate)
		}
	}
}

func TestResults_PersistedAcrossAssigners(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	first := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, store)
	first.GetVariant(ctx, "hero-cta", "user_abc")
	first.TrackExposure(ctx, "hero-cta", "user_abc")

	second := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, store)
	second.TrackConversion(ctx, "hero-cta", "user_abc", "", nil)

	results := second.Results(ctx, "hero-cta")
	if len(results) != 2 || results[0].Converted || !results[1].Converted {
		t.Errorf("got %+v", results)
	}

	second.ResetResults(ctx, "hero-cta")
	if got := len(second.Results(ctx, "hero-cta")); got != 0 {
		t.Errorf("got %d results after reset", got)
	}
}

// sizedStore records the size of the largest value written.
type sizedStore struct {
	*kv.Memory
	largest int
}

func (s *sizedStore) Set(ctx context.Context, key, value string) error {
	s.largest = max(s.largest, len(value))
	return s.Memory.Set(ctx, key, value)
}

func TestTrack_WritesOneEntryPerEvent(t *testing.T) {
	ctx := context.Background()
	store := &sizedStore{Memory: kv.NewMemory()}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, store,
		experiment.WithClock(func() time.Time { return now }))

	a.GetVariant(ctx, "hero-cta", "user_abc")
	a.TrackExposure(ctx, "hero-cta", "user_abc")
	first := store.largest

	for i := 0; i < 200; i++ {
		a.TrackExposure(ctx, "hero-cta", "user_abc")
	}
	if store.largest != first {
		t.Errorf("largest write grew from %d to %d bytes", first, store.largest)
	}
	if got := len(a.Results(ctx, "hero-cta")); got != 201 {
		t.Errorf("got %d results, want 201", got)
	}

	entries, err := store.List(ctx, "experiments:hero-cta:results:")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 201 {
		t.Errorf("got %d stored entries, want 201", len(entries))
	}
}

func TestResults_OldestFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory(),
		experiment.WithClock(func() time.Time { return clock }))

	a.GetVariant(ctx, "hero-cta", "user_abc")
	for i := 0; i < 5; i++ {
		a.TrackExposure(ctx, "hero-cta", "user_abc")
		clock = clock.Add(time.Second)
	}
	a.TrackConversion(ctx, "hero-cta", "user_abc", "", nil)

	results := a.Results(ctx, "hero-cta")
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Timestamp.Before(results[i-1].Timestamp) {
			t.Errorf("result %d out of order", i)
		}
	}
	if !results[5].Converted {
		t.Error("conversion should be last")
	}
}

func TestResults_StorageFailureKeptInMemory(t *testing.T) {
	ctx := context.Background()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory(kv.WithQuota(1)))

	a.GetVariant(ctx, "hero-cta", "user_abc")
	a.TrackExposure(ctx, "hero-cta", "user_abc")
	a.TrackConversion(ctx, "hero-cta", "user_abc", "", nil)

	rates := a.GetConversionRates(ctx, "hero-cta")
	if got := rates["variant-a"]; got.Exposures != 1 || got.Conversions != 1 {
		t.Errorf("got %+v", got)
	}

	a.ResetResults(ctx, "hero-cta")
	if got := len(a.Results(ctx, "hero-cta")); got != 0 {
		t.Errorf("got %d results after reset", got)
	}
}

func TestAssigner_CacheBounded(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, store, experiment.WithCacheSize(2))

	first := make(map[string]string)
	for i := 0; i < 10; i++ {
		subject := fmt.Sprintf("user_%d", i)
		v, _ := a.GetVariant(ctx, "hero-cta", subject)
		first[subject] = v.ID
	}
	if got := a.CachedSubjects(); got != 2 {
		t.Errorf("cache holds %d subjects, want 2", got)
	}

	// Evicted subjects come back from the store with the same variant.
	for subject, want := range first {
		if id, ok := a.Assignment(ctx, "hero-cta", subject); !ok || id != want {
			t.Errorf("%s: got (%s, %v), want %s", subject, id, ok, want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	a := experiment.NewAssigner([]experiment.Experiment{heroCTA()}, kv.NewMemory())

	for _, s := range []string{"user_1", "user_2", "user_3"} {
		a.GetVariant(ctx, "hero-cta", s)
		a.TrackExposure(ctx, "hero-cta", s)
	}
	a.TrackConversion(ctx, "hero-cta", "user_1", "", nil)

	res := a.Analyze(ctx, "hero-cta")
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.Leader != "variant-a" {
		t.Errorf("got leader %s, want variant-a", res.Leader)
	}
	if res.Variants[0].VariantID != "control" {
		t.Errorf("control must come first, got %s", res.Variants[0].VariantID)
	}
	if a.Analyze(ctx, "missing") != nil {
		t.Error("expected nil for unknown experiment")
	}
}

func TestEnsureSubject(t *testing.T) {
	ctx := context.Background()
	store := kv.SessionScope(kv.NewMemory(), "s1")

	id, err := experiment.EnsureSubject(ctx, store)
	if err != nil || id == "" {
		t.Fatalf("got (%q, %v)", id, err)
	}
	again, err := experiment.EnsureSubject(ctx, store)
	if err != nil || again != id {
		t.Errorf("got (%q, %v), want %q", again, err, id)
	}

	id, err = experiment.EnsureSubject(ctx, kv.NewMemory(kv.WithQuota(1)))
	if err == nil || id == "" {
		t.Errorf("got (%q, %v), want fresh id and error", id, err)
	}
}
