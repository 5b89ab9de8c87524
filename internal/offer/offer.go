// Package offer picks at most one time-boxed special offer to present per
// session, driven by trigger signals.
package offer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/logging"
	"github.com/headline-goat/growthgoat/internal/trigger"
)

// Offer is one entry of the catalog. Catalog order is priority order.
type Offer struct {
	ID            string        `json:"id" yaml:"id" validate:"required"`
	Title         string        `json:"title" yaml:"title" validate:"required"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger       trigger.Spec  `json:"trigger" yaml:"trigger"`
	TimeLeft      time.Duration `json:"timeLeft" yaml:"time_left" validate:"gte=0"`
	Features      []string      `json:"features,omitempty" yaml:"features,omitempty"`
	OriginalPrice float64       `json:"originalPrice" yaml:"original_price" validate:"gte=0"`
	SalePrice     float64       `json:"salePrice" yaml:"sale_price" validate:"gte=0,ltefield=OriginalPrice"`
	CTAURL        string        `json:"ctaUrl,omitempty" yaml:"cta_url,omitempty"`
}

// Discount returns the percentage saved, rounded down.
func (o Offer) Discount() int {
	if o.OriginalPrice <= 0 || o.SalePrice >= o.OriginalPrice {
		return 0
	}
	return int((o.OriginalPrice - o.SalePrice) / o.OriginalPrice * 100)
}

// Navigator performs the page navigation that follows an accepted offer.
type Navigator interface {
	Navigate(ctx context.Context, url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string)

func (f NavigatorFunc) Navigate(ctx context.Context, url string) { f(ctx, url) }

const (
	shownKey     = "offers:shown"
	presentedKey = "offers:presented"
)

// Selector evaluates the catalog for one session.
type Selector struct {
	mu        sync.Mutex
	catalog   []Offer
	shown     kv.Repo[[]string]
	presented kv.Repo[string]
	shownSet  map[string]bool
	presentID string
	sessionID string
	current   *Offer
	countdown *Countdown
	visits    *trigger.PageVisits
	navigator Navigator
	sink      analytics.Sink
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Selector.
type Option func(*Selector)

// WithSink sets where offer events go.
func WithSink(sink analytics.Sink) Option {
	return func(s *Selector) { s.sink = sink }
}

// WithLogger sets the logger for swallowed storage errors.
func WithLogger(l *zap.Logger) Option {
	return func(s *Selector) { s.logger = l }
}

// WithNavigator sets the navigation side effect of Accept.
func WithNavigator(n Navigator) Option {
	return func(s *Selector) { s.navigator = n }
}

// WithVisits lets Reset clear the page-visit counter too.
func WithVisits(v *trigger.PageVisits) Option {
	return func(s *Selector) { s.visits = v }
}

// WithClock replaces time.Now for countdowns.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// WithSessionID tags emitted events with the session.
func WithSessionID(id string) Option {
	return func(s *Selector) { s.sessionID = id }
}

// NewSelector builds a selector. shownStore holds the shown-offer set and
// decides how long an offer stays consumed (profile scope: for the
// subject's lifetime). session holds the one-offer-per-session marker.
// Duplicate ids in catalog keep their first position.
func NewSelector(ctx context.Context, shownStore, session kv.Store, catalog []Offer, opts ...Option) *Selector {
	s := &Selector{
		shown:     kv.NewRepo[[]string](shownStore, shownKey),
		presented: kv.NewRepo[string](session, presentedKey),
		shownSet:  make(map[string]bool),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sink = analytics.OrNop(s.sink)
	s.logger = logging.OrNop(s.logger).Named("offer")

	seen := make(map[string]bool, len(catalog))
	for _, o := range catalog {
		if seen[o.ID] {
			continue
		}
		seen[o.ID] = true
		s.catalog = append(s.catalog, o)
	}

	ids, _, err := s.shown.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load shown offers", zap.Error(err))
	}
	for _, id := range ids {
		s.shownSet[id] = true
	}
	return s
}

// Evaluate walks the catalog in order and presents the first unshown offer
// whose trigger is satisfied. Nothing is presented once the session has
// already presented an offer. The offer is recorded as shown before
// Evaluate returns.
func (s *Selector) Evaluate(ctx context.Context, sig trigger.Signals) (Offer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.presentedLocked(ctx) {
		return Offer{}, false
	}

	for _, o := range s.catalog {
		if s.shownSet[o.ID] || !o.Trigger.Satisfied(sig) {
			continue
		}

		s.markShownLocked(ctx, o.ID)
		offer := o
		s.current = &offer
		s.countdown = NewCountdown(o.TimeLeft, s.now)

		s.sink.Emit(analytics.EventOfferShown, analytics.Properties{
			"offer_id":   o.ID,
			"trigger":    string(o.Trigger.Kind),
			"session_id": s.sessionID,
		})
		return offer, true
	}
	return Offer{}, false
}

// Current returns the offer on screen. An offer whose countdown ran out is
// closed first.
func (s *Selector) Current() (Offer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Offer{}, false
	}
	if s.countdown != nil && s.countdown.Expired() {
		s.closeLocked("expired")
		return Offer{}, false
	}
	return *s.current, true
}

// TimeLeft returns the remaining countdown of the current offer.
func (s *Selector) TimeLeft() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.countdown == nil {
		return 0
	}
	return s.countdown.Remaining()
}

// Accept converts the current offer: it emits a conversion valued at the
// sale price and navigates to the offer's CTA. It reports false when no
// offer is on screen.
func (s *Selector) Accept(ctx context.Context) (Offer, bool) {
	s.mu.Lock()
	o := s.current
	if o == nil {
		s.mu.Unlock()
		return Offer{}, false
	}
	s.current = nil
	s.countdown = nil
	s.mu.Unlock()

	s.sink.Emit(analytics.EventOfferAccepted, analytics.Properties{
		"offer_id":   o.ID,
		"value":      o.SalePrice,
		"session_id": s.sessionID,
	})
	if s.navigator != nil && o.CTAURL != "" {
		s.navigator.Navigate(ctx, o.CTAURL)
	}
	return *o, true
}

// Close dismisses the current offer. It stays in the shown set.
func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.closeLocked("dismissed")
	}
}

// Reset clears the shown set, the session marker and the page-visit
// counter. It exists for manual QA.
func (s *Selector) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shownSet = make(map[string]bool)
	s.presentID = ""
	s.current = nil
	s.countdown = nil
	if err := s.shown.Delete(ctx); err != nil {
		s.logger.Warn("failed to clear shown offers", zap.Error(err))
	}
	if err := s.presented.Delete(ctx); err != nil {
		s.logger.Warn("failed to clear presented marker", zap.Error(err))
	}
	if s.visits != nil {
		s.visits.ForceReset(ctx)
	}
}

// Shown returns the ids in the shown set in catalog order.
func (s *Selector) Shown() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, o := range s.catalog {
		if s.shownSet[o.ID] {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Catalog returns the deduplicated catalog.
func (s *Selector) Catalog() []Offer {
	out := make([]Offer, len(s.catalog))
	copy(out, s.catalog)
	return out
}

func (s *Selector) presentedLocked(ctx context.Context) bool {
	if s.current != nil || s.presentID != "" {
		return true
	}
	id, ok, err := s.presented.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load presented marker", zap.Error(err))
	}
	return ok && id != ""
}

func (s *Selector) markShownLocked(ctx context.Context, id string) {
	s.shownSet[id] = true
	s.presentID = id

	ids := make([]string, 0, len(s.shownSet))
	for _, o := range s.catalog {
		if s.shownSet[o.ID] {
			ids = append(ids, o.ID)
		}
	}
	if err := s.shown.Save(ctx, ids); err != nil {
		s.logger.Warn("failed to persist shown offers", zap.String("offer_id", id), zap.Error(err))
	}
	if err := s.presented.Save(ctx, id); err != nil {
		s.logger.Warn("failed to persist presented marker", zap.String("offer_id", id), zap.Error(err))
	}
}

func (s *Selector) closeLocked(reason string) {
	s.sink.Emit(analytics.EventOfferClosed, analytics.Properties{
		"offer_id":   s.current.ID,
		"reason":     reason,
		"session_id": s.sessionID,
	})
	s.current = nil
	s.countdown = nil
}
