// Package catalog loads the static definitions of experiments, offers,
// funnels and trigger thresholds from YAML.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/headline-goat/growthgoat/internal/experiment"
	"github.com/headline-goat/growthgoat/internal/funnel"
	"github.com/headline-goat/growthgoat/internal/offer"
	"github.com/headline-goat/growthgoat/internal/trigger"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid catalog")

//go:embed default.yaml
var defaultYAML []byte

// Catalog is the full set of static definitions. Offer order is the
// order offers are evaluated in.
type Catalog struct {
	Triggers    trigger.Config          `yaml:"triggers"`
	Experiments []experiment.Experiment `yaml:"experiments" validate:"dive"`
	Offers      []offer.Offer           `yaml:"offers" validate:"dive"`
	Funnels     []funnel.Funnel         `yaml:"funnels" validate:"dive"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// DefaultYAML returns the built-in catalog source, e.g. to seed a file.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultYAML))
	copy(out, defaultYAML)
	return out
}

// Load reads a catalog file. An empty path loads the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML. Trigger thresholds missing from the
// document keep their defaults.
func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{Triggers: trigger.DefaultConfig()}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = newValidator()

// maxTotalWeight allows for rounding in weights such as 33.34/33.33/33.33.
const maxTotalWeight = 100 + 1e-9

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("triggerkind", func(fl validator.FieldLevel) bool {
		_, err := trigger.ParseKind(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and id uniqueness. Every problem is
// reported, not just the first.
func (c *Catalog) Validate() error {
	var result error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result = multierror.Append(result, fmt.Errorf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	seen := map[string]map[string]bool{"experiment": {}, "offer": {}, "funnel": {}}
	dup := func(kind, id string) {
		if seen[kind][id] {
			result = multierror.Append(result, fmt.Errorf("duplicate %s id %q", kind, id))
		}
		seen[kind][id] = true
	}
	for _, e := range c.Experiments {
		dup("experiment", e.ID)
		variants := make(map[string]bool, len(e.Variants))
		total := 0.0
		for _, v := range e.Variants {
			if variants[v.ID] {
				result = multierror.Append(result, fmt.Errorf("experiment %q: duplicate variant id %q", e.ID, v.ID))
			}
			variants[v.ID] = true
			total += v.Weight
		}
		if total > maxTotalWeight {
			result = multierror.Append(result, fmt.Errorf("experiment %q: variant weights sum to %g, above 100", e.ID, total))
		}
		if e.StartDate != nil && e.EndDate != nil && e.EndDate.Before(*e.StartDate) {
			result = multierror.Append(result, fmt.Errorf("experiment %q ends before it starts", e.ID))
		}
	}
	for _, o := range c.Offers {
		dup("offer", o.ID)
	}
	for _, f := range c.Funnels {
		dup("funnel", f.ID)
		steps := make(map[string]bool, len(f.Steps))
		for _, s := range f.Steps {
			if steps[s.ID] {
				result = multierror.Append(result, fmt.Errorf("funnel %q: duplicate step id %q", f.ID, s.ID))
			}
			steps[s.ID] = true
		}
	}

	if result != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, result)
	}
	return nil
}

// Experiment looks up an experiment by id.
func (c *Catalog) Experiment(id string) (experiment.Experiment, bool) {
	for _, e := range c.Experiments {
		if e.ID == id {
			return e, true
		}
	}
	return experiment.Experiment{}, false
}

// Funnel looks up a funnel by id.
func (c *Catalog) Funnel(id string) (funnel.Funnel, bool) {
	for _, f := range c.Funnels {
		if f.ID == id {
			return f, true
		}
	}
	return funnel.Funnel{}, false
}
