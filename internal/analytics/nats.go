package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig configures the NATS sink.
type NATSConfig struct {
	URL     string
	Subject string // prefix; events go to <Subject>.<event name>
	Name    string
	Timeout time.Duration
}

// NATS publishes events as JSON on core NATS subjects.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
	now     func() time.Time
}

// NewNATS connects to the configured server.
func NewNATS(cfg NATSConfig, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "growthgoat.events"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATS{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger.Named("analytics.nats"),
		now:     time.Now,
	}, nil
}

// Subject returns the full subject an event is published on.
func (n *NATS) Subject(event string) string {
	return n.subject + "." + event
}

func (n *NATS) Emit(name string, props Properties) {
	data, err := json.Marshal(Event{Name: name, Properties: props, Timestamp: n.now()})
	if err != nil {
		n.logger.Warn("failed to encode event", zap.String("event", name), zap.Error(err))
		return
	}
	if err := n.conn.Publish(n.Subject(name), data); err != nil {
		n.logger.Warn("failed to publish event", zap.String("event", name), zap.Error(err))
	}
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	if err := n.conn.Flush(); err != nil {
		n.conn.Close()
		return fmt.Errorf("nats flush: %w", err)
	}
	n.conn.Close()
	return nil
}
