// Package geo looks up the approximate location of a visitor over HTTP.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/logging"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("location lookup unavailable")

// Config configures an HTTP lookup.
type Config struct {
	// URL of a JSON endpoint. The visitor IP is passed as the ip query
	// parameter.
	URL     string
	Timeout time.Duration

	// Consecutive failures before the breaker opens, and how long it stays
	// open.
	MaxFailures uint32
	OpenFor     time.Duration
}

// HTTPLookup resolves locations from a JSON endpoint answering with
// {"city": "...", "country": "..."} (country_code is accepted too).
type HTTPLookup struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPLookup validates cfg and builds a lookup.
func NewHTTPLookup(cfg Config, logger *zap.Logger) (*HTTPLookup, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("geo url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid geo url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}

	l := &HTTPLookup{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger).Named("geo"),
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "geo",
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Info("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return l, nil
}

type response struct {
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// Locate returns "City, Country", or whichever part is known.
func (l *HTTPLookup) Locate(ctx context.Context, ip string) (string, error) {
	out, err := l.breaker.Execute(func() (interface{}, error) {
		return l.fetch(ctx, ip)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrUnavailable
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (l *HTTPLookup) fetch(ctx context.Context, ip string) (string, error) {
	u, err := url.Parse(l.url)
	if err != nil {
		return "", fmt.Errorf("invalid geo url: %w", err)
	}
	if ip != "" {
		q := u.Query()
		q.Set("ip", ip)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("location lookup returned %s", resp.Status)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode location: %w", err)
	}

	country := body.Country
	if country == "" {
		country = body.CountryCode
	}
	var parts []string
	for _, p := range []string{body.City, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", "), nil
}
