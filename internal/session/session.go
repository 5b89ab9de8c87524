// Package session keeps the per-visit state of every live session: the
// behaviour tracker, the trigger detectors, the offer selector and the
// latest recommendations.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/behavior"
	"github.com/headline-goat/growthgoat/internal/experiment"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/logging"
	"github.com/headline-goat/growthgoat/internal/offer"
	"github.com/headline-goat/growthgoat/internal/recommend"
	"github.com/headline-goat/growthgoat/internal/trigger"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// maxTickSeconds bounds how far a single tick may advance the clock.
const maxTickSeconds = 300

// Session is one visit.
type Session struct {
	ID        string
	SubjectID string

	Tracker  *behavior.Tracker
	Triggers *trigger.Engine
	Offers   *offer.Selector
	Recs     *recommend.Engine

	store    kv.Store // session scope
	mu       sync.Mutex
	lastSeen time.Time
	now      func() time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last signal.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// PageView records a page load: it extends the behaviour snapshot, counts
// the visit and re-evaluates offers.
func (s *Session) PageView(ctx context.Context, path string) (offer.Offer, bool) {
	s.touch()
	s.Tracker.AddPageView(path)
	s.Triggers.Visits.RecordVisit(ctx)
	return s.Evaluate(ctx)
}

// Scroll reports the scroll position of path as a percentage.
func (s *Session) Scroll(ctx context.Context, path string, percent float64) (offer.Offer, bool) {
	s.touch()
	s.Tracker.UpdateScrollDepth(path, percent/100)
	s.Triggers.Scroll.Observe(ctx, percent)
	return s.Evaluate(ctx)
}

// PointerLeave reports the pointer leaving the page.
func (s *Session) PointerLeave(ctx context.Context, clientY float64, toElement bool) (offer.Offer, bool) {
	s.touch()
	s.Triggers.Exit.PointerLeave(ctx, clientY, toElement)
	return s.Evaluate(ctx)
}

// Tick advances time on page by seconds.
func (s *Session) Tick(ctx context.Context, seconds int) (offer.Offer, bool) {
	s.touch()
	if seconds > maxTickSeconds {
		seconds = maxTickSeconds
	}
	for i := 0; i < seconds; i++ {
		s.Triggers.Time.Tick(ctx)
	}
	if seconds > 0 {
		s.Tracker.AddTime(time.Duration(seconds) * time.Second)
	}
	return s.Evaluate(ctx)
}

// Interaction records a user action.
func (s *Session) Interaction(kind behavior.InteractionKind, element, value string) {
	s.touch()
	s.Tracker.AddInteraction(kind, element, value)
}

// Evaluate offers against the current trigger signals. An offer already
// on screen is returned as is.
func (s *Session) Evaluate(ctx context.Context) (offer.Offer, bool) {
	if o, ok := s.Offers.Current(); ok {
		return o, true
	}
	return s.Offers.Evaluate(ctx, s.Triggers.Signals())
}

// Refresh recomputes recommendations from the current snapshot.
func (s *Session) Refresh() []recommend.Recommendation {
	return s.Recs.Refresh(s.Tracker.Snapshot())
}

// Save persists the behaviour snapshot.
func (s *Session) Save(ctx context.Context) error {
	return s.Tracker.Save(ctx, s.store)
}

// Options for a new session.
type Options struct {
	SessionID string
	SubjectID string // minted when empty
	UserAgent string
	Referrer  string
	IP        string
}

// Registry owns the live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store      kv.Store
	triggers   trigger.Config
	offers     []offer.Offer
	sink       analytics.Sink
	logger     *zap.Logger
	locator    behavior.Locator
	geoTimeout time.Duration
	now        func() time.Time
	enrich     sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink sets where component events go.
func WithSink(s analytics.Sink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithLocator enables location enrichment of new sessions.
func WithLocator(l behavior.Locator, timeout time.Duration) Option {
	return func(r *Registry) {
		r.locator = l
		r.geoTimeout = timeout
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry over store with the given trigger
// thresholds and offer catalog.
func NewRegistry(store kv.Store, triggers trigger.Config, offers []offer.Offer, opts ...Option) *Registry {
	r := &Registry{
		sessions:   make(map[string]*Session),
		store:      store,
		triggers:   triggers,
		offers:     offers,
		geoTimeout: 2 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sink = analytics.OrNop(r.sink)
	r.logger = logging.OrNop(r.logger).Named("session")
	return r
}

// Open returns the live session with opts.SessionID, creating it on first
// use. A new session restores any saved behaviour snapshot and starts a
// background location lookup.
func (r *Registry) Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[opts.SessionID]; ok {
		s.touch()
		return s, nil
	}

	sessionStore := kv.SessionScope(r.store, opts.SessionID)
	subjectID := opts.SubjectID
	if subjectID == "" {
		id, err := experiment.EnsureSubject(ctx, sessionStore)
		if err != nil {
			r.logger.Warn("failed to persist subject id", zap.String("session_id", opts.SessionID), zap.Error(err))
		}
		subjectID = id
	}
	profileStore := kv.ProfileScope(r.store, subjectID)

	tracker, ok, err := behavior.Load(ctx, sessionStore)
	if err != nil {
		r.logger.Warn("failed to load behavior", zap.String("session_id", opts.SessionID), zap.Error(err))
	}
	if !ok {
		tracker = behavior.NewTracker(opts.SessionID, subjectID, behavior.DetectDevice(opts.UserAgent))
		if opts.Referrer != "" {
			tracker.SetReferrer(opts.Referrer)
		}
	}
	tracker.SetClock(r.now)

	topts := []trigger.Option{trigger.WithSink(r.sink), trigger.WithLogger(r.logger), trigger.WithClock(r.now)}
	engine := trigger.NewEngine(ctx, sessionStore, profileStore, r.triggers, topts...)
	selector := offer.NewSelector(ctx, profileStore, sessionStore, r.offers,
		offer.WithSink(r.sink),
		offer.WithLogger(r.logger),
		offer.WithVisits(engine.Visits),
		offer.WithSessionID(opts.SessionID),
		offer.WithClock(r.now),
	)

	s := &Session{
		ID:        opts.SessionID,
		SubjectID: subjectID,
		Tracker:   tracker,
		Triggers:  engine,
		Offers:    selector,
		Recs:      recommend.NewEngine(),
		store:     sessionStore,
		lastSeen:  r.now(),
		now:       r.now,
	}
	r.sessions[s.ID] = s

	if r.locator != nil && opts.IP != "" && tracker.Snapshot().Location == "" {
		r.enrich.Add(1)
		go func() {
			defer r.enrich.Done()
			tracker.Enrich(context.WithoutCancel(ctx), r.locator, opts.IP, r.geoTimeout, r.logger)
		}()
	}

	r.logger.Debug("session opened", zap.String("session_id", s.ID), zap.String("subject_id", subjectID))
	return s, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// End saves and drops a session.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return s.Save(ctx)
}

// Sweep ends sessions idle for longer than idle and returns how many it
// ended.
func (r *Registry) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		if err := s.Save(ctx); err != nil {
			r.logger.Warn("failed to save session", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	return len(stale)
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx, idle); n > 0 {
				r.logger.Info("swept idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Close waits for pending location lookups and saves every session.
func (r *Registry) Close(ctx context.Context) error {
	r.enrich.Wait()

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var result error
	for _, s := range sessions {
		if err := s.Save(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}
	return result
}
