// Package recommend scores a behaviour snapshot against a fixed list of
// rules and returns prioritized suggestions.
package recommend

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/headline-goat/growthgoat/internal/behavior"
)

// RuleKind tags a recommendation rule.
type RuleKind string

const (
	RulePopularContent     RuleKind = "popular_content"
	RuleExitRisk           RuleKind = "exit_risk"
	RuleMobileOptimization RuleKind = "mobile_optimization"
	RuleLowEngagement      RuleKind = "low_engagement"
	RulePremiumUpsell      RuleKind = "premium_upsell"
)

// Type is the kind of suggestion.
type Type string

const (
	TypeContent Type = "content"
	TypeProduct Type = "product"
	TypeAction  Type = "action"
	TypeDesign  Type = "design"
)

// Priority orders recommendations; higher values sort first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MarshalText renders the priority as its name.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses high, medium or low.
func (p *Priority) UnmarshalText(b []byte) error {
	switch string(b) {
	case "high":
		*p = PriorityHigh
	case "medium":
		*p = PriorityMedium
	case "low":
		*p = PriorityLow
	default:
		return fmt.Errorf("unknown priority %q", b)
	}
	return nil
}

// Recommendation is one suggestion produced by a rule. Rule names the
// rule that produced it.
type Recommendation struct {
	ID          string         `json:"id"`
	Rule        RuleKind       `json:"rule"`
	Type        Type           `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Priority    Priority       `json:"priority"`
	Category    string         `json:"category"`
	ActionText  string         `json:"actionText"`
	ActionURL   string         `json:"actionUrl,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

type rule struct {
	kind     RuleKind
	matches  func(behavior.Snapshot) bool
	generate func(behavior.Snapshot) Recommendation
}

// rules are evaluated in this order; it breaks sort ties.
var rules = []rule{
	{
		kind: RulePopularContent,
		matches: func(s behavior.Snapshot) bool {
			return len(s.PageViews) > 3
		},
		generate: func(s behavior.Snapshot) Recommendation {
			return Recommendation{
				Type:        TypeContent,
				Title:       "Explore our most popular templates",
				Description: "Visitors who browse this much usually find a template they like.",
				Priority:    PriorityMedium,
				Confidence:  0.8,
				Category:    "templates",
				ActionText:  "Browse templates",
				ActionURL:   "/templates?sort=popular",
				Data:        map[string]any{"pageViews": len(s.PageViews)},
			}
		},
	},
	{
		kind: RuleExitRisk,
		matches: func(s behavior.Snapshot) bool {
			if len(s.PageViews) == 0 {
				return false
			}
			return s.AverageTimePerPageMs() < 30000 && len(s.Interactions) < 2
		},
		generate: func(s behavior.Snapshot) Recommendation {
			return Recommendation{
				Type:        TypeAction,
				Title:       "Start free in under a minute",
				Description: "No credit card required.",
				Priority:    PriorityHigh,
				Confidence:  0.7,
				Category:    "retention",
				ActionText:  "Get started",
				ActionURL:   "/signup",
				Data:        map[string]any{"averageTimePerPageMs": s.AverageTimePerPageMs()},
			}
		},
	},
	{
		kind: RuleMobileOptimization,
		matches: func(s behavior.Snapshot) bool {
			return s.DeviceType == behavior.DeviceMobile
		},
		generate: func(behavior.Snapshot) Recommendation {
			return Recommendation{
				Type:        TypeDesign,
				Title:       "Your page looks great on mobile",
				Description: "Preview the mobile layout of your link page.",
				Priority:    PriorityMedium,
				Confidence:  0.9,
				Category:    "mobile",
				ActionText:  "Preview on mobile",
				ActionURL:   "/builder?preview=mobile",
			}
		},
	},
	{
		kind: RuleLowEngagement,
		matches: func(s behavior.Snapshot) bool {
			if len(s.PageViews) == 0 {
				return false
			}
			return float64(len(s.Interactions))/float64(len(s.PageViews)) < 0.5
		},
		generate: func(behavior.Snapshot) Recommendation {
			return Recommendation{
				Type:        TypeAction,
				Title:       "Try the interactive demo",
				Description: "See how a link page comes together in a few clicks.",
				Priority:    PriorityLow,
				Confidence:  0.6,
				Category:    "engagement",
				ActionText:  "Open the demo",
				ActionURL:   "/demo",
			}
		},
	},
	{
		kind: RulePremiumUpsell,
		matches: func(s behavior.Snapshot) bool {
			return len(s.PageViews) > 5 && (len(s.Interactions) > 10 || s.TimeSpentMs > 300000)
		},
		generate: func(s behavior.Snapshot) Recommendation {
			return Recommendation{
				Type:        TypeProduct,
				Title:       "Unlock Pro features",
				Description: "Custom domains, analytics and unlimited links.",
				Priority:    PriorityHigh,
				Confidence:  0.85,
				Category:    "upgrade",
				ActionText:  "See Pro plans",
				ActionURL:   "/pricing?plan=pro",
				Data:        map[string]any{"plan": "pro", "interactions": len(s.Interactions)},
			}
		},
	},
}

// Kinds lists the rules in evaluation order.
func Kinds() []RuleKind {
	out := make([]RuleKind, len(rules))
	for i, r := range rules {
		out[i] = r.kind
	}
	return out
}

// Generate evaluates every rule against snap and returns one recommendation
// per matching rule, sorted by priority then confidence, both descending.
func Generate(snap behavior.Snapshot) []Recommendation {
	var out []Recommendation
	for _, r := range rules {
		if !r.matches(snap) {
			continue
		}
		rec := r.generate(snap)
		rec.Rule = r.kind
		rec.ID = newID()
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Engine keeps the latest generated list for a session. Callers decide
// when to recompute by calling Refresh after a batch of mutations.
type Engine struct {
	mu      sync.RWMutex
	current []Recommendation
}

// NewEngine returns an engine with an empty list.
func NewEngine() *Engine {
	return &Engine{}
}

// Generate recomputes from snap without touching the stored list.
func (e *Engine) Generate(snap behavior.Snapshot) []Recommendation {
	return Generate(snap)
}

// Refresh recomputes from snap and replaces the stored list.
func (e *Engine) Refresh(snap behavior.Snapshot) []Recommendation {
	recs := Generate(snap)
	e.mu.Lock()
	e.current = recs
	e.mu.Unlock()
	return copyRecs(recs)
}

// Current returns the list from the last Refresh.
func (e *Engine) Current() []Recommendation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyRecs(e.current)
}

func copyRecs(recs []Recommendation) []Recommendation {
	if recs == nil {
		return nil
	}
	out := make([]Recommendation, len(recs))
	copy(out, recs)
	return out
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
