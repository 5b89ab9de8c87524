// Package behavior accumulates what a session has done: page views,
// interactions, time on site and scroll depth.
package behavior

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/headline-goat/growthgoat/internal/kv"
)

// InteractionKind tags an interaction.
type InteractionKind string

const (
	InteractionClick    InteractionKind = "click"
	InteractionHover    InteractionKind = "hover"
	InteractionFormFill InteractionKind = "form_fill"
	InteractionDownload InteractionKind = "download"
	InteractionShare    InteractionKind = "share"
)

// ParseInteractionKind validates an interaction type name.
func ParseInteractionKind(s string) (InteractionKind, error) {
	switch k := InteractionKind(s); k {
	case InteractionClick, InteractionHover, InteractionFormFill, InteractionDownload, InteractionShare:
		return k, nil
	}
	return "", fmt.Errorf("unknown interaction type %q", s)
}

// Device classes.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// PageView is one visit to a path.
type PageView struct {
	Path        string    `json:"path"`
	Timestamp   time.Time `json:"timestamp"`
	DurationMs  int64     `json:"durationMs"`
	ScrollDepth float64   `json:"scrollDepth"` // 0-1
}

// Interaction is one user action. Immutable once recorded.
type Interaction struct {
	Kind      InteractionKind `json:"type"`
	Element   string          `json:"element"`
	Timestamp time.Time       `json:"timestamp"`
	Value     string          `json:"value,omitempty"`
}

// Snapshot is the accumulated behaviour of a session.
type Snapshot struct {
	SessionID    string        `json:"sessionId"`
	UserID       string        `json:"userId,omitempty"`
	PageViews    []PageView    `json:"pageViews"`
	Interactions []Interaction `json:"interactions"`
	TimeSpentMs  int64         `json:"timeSpentMs"`
	DeviceType   string        `json:"deviceType"`
	Referrer     string        `json:"referrer,omitempty"`
	Location     string        `json:"location,omitempty"`
}

// AverageTimePerPageMs returns TimeSpentMs divided by the page view count,
// or 0 without page views.
func (s Snapshot) AverageTimePerPageMs() float64 {
	if len(s.PageViews) == 0 {
		return 0
	}
	return float64(s.TimeSpentMs) / float64(len(s.PageViews))
}

// Tracker owns the snapshot of one session. Mutations are last-write-wins.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker starts an empty snapshot for sessionID.
func NewTracker(sessionID, userID, deviceType string) *Tracker {
	if deviceType == "" {
		deviceType = DeviceDesktop
	}
	return &Tracker{
		snap: Snapshot{SessionID: sessionID, UserID: userID, DeviceType: deviceType},
		now:  time.Now,
	}
}

// Restore continues from a saved snapshot.
func Restore(snap Snapshot) *Tracker {
	return &Tracker{snap: snap, now: time.Now}
}

// SetClock replaces time.Now.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// AddPageView appends a view of path. The previous view's duration is
// closed off at this moment.
func (t *Tracker) AddPageView(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if n := len(t.snap.PageViews); n > 0 {
		prev := &t.snap.PageViews[n-1]
		if prev.DurationMs == 0 {
			prev.DurationMs = now.Sub(prev.Timestamp).Milliseconds()
		}
	}
	t.snap.PageViews = append(t.snap.PageViews, PageView{Path: path, Timestamp: now})
}

// AddInteraction appends an interaction.
func (t *Tracker) AddInteraction(kind InteractionKind, element, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Interactions = append(t.snap.Interactions, Interaction{
		Kind:      kind,
		Element:   element,
		Timestamp: t.now(),
		Value:     value,
	})
}

// AddTime accumulates time on site.
func (t *Tracker) AddTime(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.TimeSpentMs += d.Milliseconds()
}

// UpdateScrollDepth raises the scroll depth (0-1) of the most recent view
// of path. Lower values are ignored. It reports whether a view matched.
func (t *Tracker) UpdateScrollDepth(path string, depth float64) bool {
	if depth > 1 {
		depth = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.snap.PageViews) - 1; i >= 0; i-- {
		pv := &t.snap.PageViews[i]
		if pv.Path != path {
			continue
		}
		if depth > pv.ScrollDepth {
			pv.ScrollDepth = depth
		}
		return true
	}
	return false
}

// SetDevice overrides the device class.
func (t *Tracker) SetDevice(deviceType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.DeviceType = deviceType
}

// SetReferrer records where the session came from.
func (t *Tracker) SetReferrer(referrer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Referrer = referrer
}

// SetLocation records the approximate location.
func (t *Tracker) SetLocation(location string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Location = location
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.snap
	out.PageViews = append([]PageView(nil), t.snap.PageViews...)
	out.Interactions = append([]Interaction(nil), t.snap.Interactions...)
	return out
}

const snapshotKey = "behavior"

// Save writes the snapshot to store (session scope).
func (t *Tracker) Save(ctx context.Context, store kv.Store) error {
	return kv.NewRepo[Snapshot](store, snapshotKey).Save(ctx, t.Snapshot())
}

// Load restores a tracker saved with Save. ok is false when nothing was
// saved.
func Load(ctx context.Context, store kv.Store) (*Tracker, bool, error) {
	snap, ok, err := kv.NewRepo[Snapshot](store, snapshotKey).Load(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return Restore(snap), true, nil
}

// DetectDevice classifies a User-Agent header.
func DetectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet") ||
		(strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")):
		return DeviceTablet
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}
