package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/headline-goat/growthgoat/internal/analytics"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/notify"
	"github.com/headline-goat/growthgoat/internal/offer"
	"github.com/headline-goat/growthgoat/internal/recommend"
)

var testSub = notify.Subscription{
	Endpoint: "https://push.example.com/send/abc",
	Keys:     notify.Keys{P256dh: "p256dh", Auth: "auth"},
}

type sent struct {
	sub     notify.Subscription
	payload notify.Notification
}

func newWebPush(t *testing.T, status int) (*notify.WebPush, *[]sent) {
	t.Helper()
	var deliveries []sent
	w, err := notify.NewWebPush(kv.NewMemory(), notify.WebPushConfig{Subject: "mailto:ops@example.com"}, nil,
		notify.WithSender(func(_ context.Context, sub notify.Subscription, payload []byte) (int, error) {
			var n notify.Notification
			if err := json.Unmarshal(payload, &n); err != nil {
				t.Errorf("payload is not JSON: %v", err)
			}
			deliveries = append(deliveries, sent{sub: sub, payload: n})
			return status, nil
		}))
	if err != nil {
		t.Fatalf("NewWebPush: %v", err)
	}
	return w, &deliveries
}

func TestPlan(t *testing.T) {
	high := recommend.Recommendation{ID: "r1", Rule: recommend.RulePremiumUpsell, Title: "Unlock Pro", ActionURL: "/pricing", Priority: recommend.PriorityHigh}
	medium := recommend.Recommendation{ID: "r2", Rule: recommend.RuleMobileOptimization, Title: "Mobile", Priority: recommend.PriorityMedium}
	presented := &offer.Offer{ID: "exit-discount", Title: "50% off", TimeLeft: 15 * time.Minute, OriginalPrice: 20, SalePrice: 10, CTAURL: "/checkout"}

	tests := []struct {
		name      string
		recs      []recommend.Recommendation
		presented *offer.Offer
		wantTag   string
		wantOK    bool
	}{
		{"offer wins", []recommend.Recommendation{high}, presented, "offer:exit-discount", true},
		{"high priority recommendation", []recommend.Recommendation{high, medium}, nil, "recommendation:premium_upsell", true},
		{"medium only", []recommend.Recommendation{medium}, nil, "", false},
		{"nothing", nil, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := notify.Plan(tt.recs, tt.presented)
			if ok != tt.wantOK || n.Tag != tt.wantTag {
				t.Errorf("got (%q, %v), want (%q, %v)", n.Tag, ok, tt.wantTag, tt.wantOK)
			}
		})
	}

	n, _ := notify.Plan(nil, presented)
	if n.Body != "50% off, ends in 15:00." || n.URL != "/checkout" {
		t.Errorf("got %+v", n)
	}
}

func TestWebPush_Permission(t *testing.T) {
	ctx := context.Background()
	w, _ := newWebPush(t, http.StatusCreated)

	if p, err := w.RequestPermission(ctx, "u1"); err != nil || p != notify.PermissionDefault {
		t.Errorf("got (%v, %v), want default", p, err)
	}
	if err := w.SetPermission(ctx, "u1", notify.PermissionDenied); err != nil {
		t.Fatal(err)
	}
	if p, _ := w.RequestPermission(ctx, "u1"); p != notify.PermissionDenied {
		t.Errorf("got %v, want denied", p)
	}

	if err := w.Subscribe(ctx, "u2", testSub); err != nil {
		t.Fatal(err)
	}
	if p, _ := w.RequestPermission(ctx, "u2"); p != notify.PermissionGranted {
		t.Errorf("got %v, want granted", p)
	}
	if err := w.Subscribe(ctx, "u3", notify.Subscription{Endpoint: "https://x"}); err == nil {
		t.Error("expected error for subscription without keys")
	}
}

func TestWebPush_Show(t *testing.T) {
	ctx := context.Background()
	w, deliveries := newWebPush(t, http.StatusCreated)

	if err := w.Show(ctx, "u1", notify.Notification{Title: "hi"}); !errors.Is(err, notify.ErrNoSubscription) {
		t.Errorf("got %v, want ErrNoSubscription", err)
	}

	if err := w.Subscribe(ctx, "u1", testSub); err != nil {
		t.Fatal(err)
	}
	if err := w.Show(ctx, "u1", notify.Notification{Title: "hi", Tag: "t"}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if len(*deliveries) != 1 || (*deliveries)[0].sub != testSub || (*deliveries)[0].payload.Title != "hi" {
		t.Errorf("got %+v", *deliveries)
	}
	if w.VAPIDPublicKey() == "" {
		t.Error("expected generated VAPID key")
	}
}

func TestWebPush_ExpiredSubscriptionRemoved(t *testing.T) {
	ctx := context.Background()
	w, _ := newWebPush(t, http.StatusGone)

	if err := w.Subscribe(ctx, "u1", testSub); err != nil {
		t.Fatal(err)
	}
	if err := w.Show(ctx, "u1", notify.Notification{Title: "hi"}); !errors.Is(err, notify.ErrNoSubscription) {
		t.Errorf("got %v, want ErrNoSubscription", err)
	}
	if err := w.Show(ctx, "u1", notify.Notification{Title: "again"}); !errors.Is(err, notify.ErrNoSubscription) {
		t.Errorf("subscription not removed: %v", err)
	}
}

func TestNewWebPush_RequiresSubject(t *testing.T) {
	if _, err := notify.NewWebPush(kv.NewMemory(), notify.WebPushConfig{}, nil); err == nil {
		t.Error("expected error without subject")
	}
}

func TestPlanner_Notify(t *testing.T) {
	ctx := context.Background()
	recs := []recommend.Recommendation{{ID: "r1", Rule: recommend.RuleExitRisk, Title: "Start free", Priority: recommend.PriorityHigh}}

	t.Run("denied is a status", func(t *testing.T) {
		w, deliveries := newWebPush(t, http.StatusCreated)
		w.SetPermission(ctx, "u1", notify.PermissionDenied)

		out, err := notify.NewPlanner(w, nil, nil).Notify(ctx, "u1", recs, nil)
		if err != nil {
			t.Fatalf("denied permission must not error: %v", err)
		}
		if out.Permission != notify.PermissionDenied || out.Sent || len(*deliveries) != 0 {
			t.Errorf("got %+v", out)
		}
	})

	t.Run("granted sends", func(t *testing.T) {
		rec := analytics.NewRecorder()
		w, deliveries := newWebPush(t, http.StatusCreated)
		w.Subscribe(ctx, "u1", testSub)

		out, err := notify.NewPlanner(w, rec, nil).Notify(ctx, "u1", recs, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !out.Sent || out.Notification == nil || out.Notification.Title != "Start free" {
			t.Errorf("got %+v", out)
		}
		if len(*deliveries) != 1 || len(rec.Named(analytics.EventNotificationSent)) != 1 {
			t.Error("expected one delivery and one event")
		}
	})

	t.Run("nothing to send", func(t *testing.T) {
		w, deliveries := newWebPush(t, http.StatusCreated)
		w.Subscribe(ctx, "u1", testSub)

		out, err := notify.NewPlanner(w, nil, nil).Notify(ctx, "u1", nil, nil)
		if err != nil || out.Sent || len(*deliveries) != 0 {
			t.Errorf("got (%+v, %v)", out, err)
		}
	})
}

func TestParsePermission(t *testing.T) {
	if p, err := notify.ParsePermission("granted"); err != nil || p != notify.PermissionGranted {
		t.Errorf("got (%v, %v)", p, err)
	}
	if _, err := notify.ParsePermission("maybe"); err == nil {
		t.Error("expected error")
	}
}
