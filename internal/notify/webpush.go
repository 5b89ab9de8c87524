package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/logging"
)

// ErrNoSubscription is returned by Show when the subject never subscribed
// or the push service expired the subscription.
var ErrNoSubscription = errors.New("no push subscription")

const (
	subscriptionKey = "push:subscription"
	permissionKey   = "push:permission"
)

// SendFunc delivers an encrypted payload and returns the push service's
// HTTP status.
type SendFunc func(ctx context.Context, sub Subscription, payload []byte) (int, error)

// WebPushConfig configures VAPID. Keys are generated when left empty.
type WebPushConfig struct {
	Subject      string // mailto: or https: URL
	VAPIDPublic  string
	VAPIDPrivate string
	TTL          int // seconds
}

// WebPush delivers notifications with the Web Push protocol. Subscriptions
// and permissions live in the subject's profile scope.
type WebPush struct {
	store  kv.Store
	cfg    WebPushConfig
	send   SendFunc
	logger *zap.Logger
}

// WebPushOption configures WebPush.
type WebPushOption func(*WebPush)

// WithSender replaces the HTTP delivery.
func WithSender(fn SendFunc) WebPushOption {
	return func(w *WebPush) { w.send = fn }
}

// NewWebPush validates cfg and builds the platform.
func NewWebPush(store kv.Store, cfg WebPushConfig, logger *zap.Logger, opts ...WebPushOption) (*WebPush, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("push subject required (e.g. mailto:admin@example.com)")
	}
	logger = logging.OrNop(logger).Named("webpush")
	if cfg.VAPIDPublic == "" || cfg.VAPIDPrivate == "" {
		pub, priv, err := GenerateKeys()
		if err != nil {
			return nil, err
		}
		cfg.VAPIDPublic, cfg.VAPIDPrivate = pub, priv
		logger.Warn("no VAPID keys configured, generated a pair for this run; run 'growthgoat init' to keep one")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}

	w := &WebPush{store: store, cfg: cfg, logger: logger}
	w.send = w.deliver
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// GenerateKeys creates a VAPID key pair. Subscriptions are bound to the
// public key, so a deployment should generate it once and keep it.
func GenerateKeys() (public, private string, err error) {
	private, public, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	return public, private, nil
}

// VAPIDPublicKey is handed to clients to subscribe.
func (w *WebPush) VAPIDPublicKey() string {
	return w.cfg.VAPIDPublic
}

func (w *WebPush) subscription(subjectID string) kv.Repo[Subscription] {
	return kv.NewRepo[Subscription](kv.ProfileScope(w.store, subjectID), subscriptionKey)
}

func (w *WebPush) permission(subjectID string) kv.Repo[Permission] {
	return kv.NewRepo[Permission](kv.ProfileScope(w.store, subjectID), permissionKey)
}

// SetPermission records the answer the subject gave in the browser.
func (w *WebPush) SetPermission(ctx context.Context, subjectID string, p Permission) error {
	if err := w.permission(subjectID).Save(ctx, p); err != nil {
		return fmt.Errorf("failed to save permission: %w", err)
	}
	return nil
}

// RequestPermission returns the recorded permission. A subject with a
// subscription has granted it; one that never answered is default.
func (w *WebPush) RequestPermission(ctx context.Context, subjectID string) (Permission, error) {
	p, ok, err := w.permission(subjectID).Load(ctx)
	if err != nil {
		return PermissionDefault, err
	}
	if ok {
		return p, nil
	}
	if _, ok, err := w.subscription(subjectID).Load(ctx); err == nil && ok {
		return PermissionGranted, nil
	}
	return PermissionDefault, nil
}

// Subscribe stores the subscription and marks permission granted.
func (w *WebPush) Subscribe(ctx context.Context, subjectID string, sub Subscription) error {
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return fmt.Errorf("subscription endpoint and keys are required")
	}
	if err := w.subscription(subjectID).Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return w.SetPermission(ctx, subjectID, PermissionGranted)
}

// Unsubscribe forgets the subject's subscription.
func (w *WebPush) Unsubscribe(ctx context.Context, subjectID string) error {
	return w.subscription(subjectID).Delete(ctx)
}

// Show pushes n to the subject. An expired subscription is removed.
func (w *WebPush) Show(ctx context.Context, subjectID string, n Notification) error {
	sub, ok, err := w.subscription(subjectID).Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSubscription
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	status, err := w.send(ctx, sub, payload)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	switch {
	case status == http.StatusGone || status == http.StatusNotFound:
		if err := w.Unsubscribe(ctx, subjectID); err != nil {
			w.logger.Warn("failed to drop expired subscription", zap.String("subject_id", subjectID), zap.Error(err))
		}
		return ErrNoSubscription
	case status >= 400:
		return fmt.Errorf("push service returned status %d", status)
	}
	return nil
}

func (w *WebPush) deliver(ctx context.Context, sub Subscription, payload []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, &webpush.Options{
		Subscriber:      w.cfg.Subject,
		VAPIDPublicKey:  w.cfg.VAPIDPublic,
		VAPIDPrivateKey: w.cfg.VAPIDPrivate,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
