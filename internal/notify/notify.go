// Package notify decides whether and what to push to a subject, and
// delivers it through a notification platform.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/logging"
	"github.com/headline-goat/growthgoat/internal/offer"
	"github.com/headline-goat/growthgoat/internal/recommend"
)

// Permission is the subject's notification permission.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// ParsePermission validates a permission name.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermissionGranted, PermissionDenied, PermissionDefault:
		return p, nil
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

// Keys are the encryption keys of a push subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a browser push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Notification is the payload shown to the subject.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body,omitempty"`
	URL   string         `json:"url,omitempty"`
	Tag   string         `json:"tag,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Platform wraps the push delivery mechanism.
type Platform interface {
	RequestPermission(ctx context.Context, subjectID string) (Permission, error)
	Subscribe(ctx context.Context, subjectID string, sub Subscription) error
	Show(ctx context.Context, subjectID string, n Notification) error
}

// Plan picks what to send: the presented offer first, otherwise the
// highest ranked high-priority recommendation. recs must already be
// sorted. It returns false when nothing is worth a notification.
func Plan(recs []recommend.Recommendation, presented *offer.Offer) (Notification, bool) {
	if presented != nil {
		body := presented.Description
		if d := presented.Discount(); d > 0 {
			body = strings.TrimSpace(fmt.Sprintf("%d%% off, ends in %s. %s", d, offer.FormatClock(presented.TimeLeft), body))
		}
		return Notification{
			Title: presented.Title,
			Body:  body,
			URL:   presented.CTAURL,
			Tag:   "offer:" + presented.ID,
			Data:  map[string]any{"offer_id": presented.ID},
		}, true
	}
	for _, r := range recs {
		if r.Priority != recommend.PriorityHigh {
			continue
		}
		return Notification{
			Title: r.Title,
			Body:  r.Description,
			URL:   r.ActionURL,
			Tag:   "recommendation:" + string(r.Rule),
			Data:  map[string]any{"recommendation_id": r.ID, "rule": string(r.Rule)},
		}, true
	}
	return Notification{}, false
}

// Outcome reports what Notify did.
type Outcome struct {
	Permission   Permission    `json:"permission"`
	Sent         bool          `json:"sent"`
	Notification *Notification `json:"notification,omitempty"`
}

// Planner plans and sends notifications over a platform.
type Planner struct {
	platform Platform
	sink     analytics.Sink
	logger   *zap.Logger
}

// NewPlanner builds a planner. sink and logger may be nil.
func NewPlanner(p Platform, sink analytics.Sink, logger *zap.Logger) *Planner {
	return &Planner{
		platform: p,
		sink:     analytics.OrNop(sink),
		logger:   logging.OrNop(logger).Named("notify"),
	}
}

// Notify sends the planned notification when the subject granted
// permission. A denied or undecided permission is reported in the outcome,
// not as an error.
func (p *Planner) Notify(ctx context.Context, subjectID string, recs []recommend.Recommendation, presented *offer.Offer) (Outcome, error) {
	perm, err := p.platform.RequestPermission(ctx, subjectID)
	if err != nil {
		return Outcome{Permission: PermissionDefault}, fmt.Errorf("failed to read permission: %w", err)
	}
	out := Outcome{Permission: perm}
	if perm != PermissionGranted {
		return out, nil
	}

	n, ok := Plan(recs, presented)
	if !ok {
		return out, nil
	}
	out.Notification = &n

	if err := p.platform.Show(ctx, subjectID, n); err != nil {
		p.logger.Warn("failed to deliver notification", zap.String("subject_id", subjectID), zap.Error(err))
		return out, fmt.Errorf("failed to deliver notification: %w", err)
	}
	out.Sent = true

	p.sink.Emit(analytics.EventNotificationSent, analytics.Properties{
		"subject_id": subjectID,
		"tag":        n.Tag,
	})
	return out, nil
}
