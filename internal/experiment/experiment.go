// Package experiment assigns subjects to weighted experiment variants and
// keeps the exposure and conversion log that conversion rates are computed
// from.
package experiment

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/headline-goat/growthgoat/internal/kv"
)

// Variant is one arm of an experiment. Weight is a percentage of traffic.
type Variant struct {
	ID      string         `json:"id" yaml:"id" validate:"required"`
	Name    string         `json:"name" yaml:"name"`
	Weight  float64        `json:"weight" yaml:"weight" validate:"gte=0,lte=100"`
	Content map[string]any `json:"content,omitempty" yaml:"content,omitempty"`
}

// Experiment is a catalog entry. Variant order matters for bucketing and
// the first variant is the control.
type Experiment struct {
	ID             string     `json:"id" yaml:"id" validate:"required"`
	Name           string     `json:"name" yaml:"name"`
	Variants       []Variant  `json:"variants" yaml:"variants" validate:"required,min=1,dive"`
	Active         bool       `json:"active" yaml:"active"`
	StartDate      *time.Time `json:"startDate,omitempty" yaml:"start_date,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty" yaml:"end_date,omitempty"`
	ConversionGoal string     `json:"conversionGoal,omitempty" yaml:"conversion_goal,omitempty"`
}

// Running reports whether the experiment is active at t.
func (e Experiment) Running(t time.Time) bool {
	if !e.Active {
		return false
	}
	if e.StartDate != nil && t.Before(*e.StartDate) {
		return false
	}
	if e.EndDate != nil && t.After(*e.EndDate) {
		return false
	}
	return true
}

// Variant returns the variant with id.
func (e Experiment) Variant(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

func (e Experiment) weights() []float64 {
	w := make([]float64, len(e.Variants))
	for i, v := range e.Variants {
		w[i] = v.Weight
	}
	return w
}

// Result is one entry of the append-only result log. Exposures have
// Converted false.
type Result struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experimentId"`
	VariantID    string    `json:"variantId"`
	SubjectID    string    `json:"subjectId"`
	Converted    bool      `json:"converted"`
	Goal         string    `json:"goal,omitempty"`
	Value        *float64  `json:"value,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Rate summarizes one variant. Rate is a percentage.
type Rate struct {
	Exposures   int     `json:"exposures"`
	Conversions int     `json:"conversions"`
	Rate        float64 `json:"rate"`
}

const subjectKey = "subject_id"

// EnsureSubject returns the subject id kept in store, minting and saving a
// new one on first use. A failed save still returns the new id.
func EnsureSubject(ctx context.Context, store kv.Store) (string, error) {
	repo := kv.NewRepo[string](store, subjectKey)
	id, ok, err := repo.Load(ctx)
	if err == nil && ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := repo.Save(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

func newResultID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
