package behavior

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Locator resolves an approximate location, e.g. "Berlin, DE". An empty
// result means unknown.
type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// Enrich looks up the location of ip and stores it on the tracker. It gives
// up after timeout and leaves the location empty on any failure.
func (t *Tracker) Enrich(ctx context.Context, loc Locator, ip string, timeout time.Duration, logger *zap.Logger) {
	if loc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	location, err := loc.Locate(ctx, ip)
	if err != nil {
		if logger != nil {
			logger.Debug("location lookup failed", zap.String("session_id", t.Snapshot().SessionID), zap.Error(err))
		}
		return
	}
	if location != "" {
		t.SetLocation(location)
	}
}
