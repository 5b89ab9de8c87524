// Package analytics forwards growth events to external analytics platforms.
//
// Emission is fire-and-forget: sinks never block the caller on delivery and
// never report failures back to it. Failed deliveries are logged.
package analytics

import (
	"sync"
	"time"
)

// Event names emitted by the growth components.
const (
	EventExperimentAssigned   = "experiment_assigned"
	EventExperimentExposure   = "experiment_exposure"
	EventExperimentConversion = "experiment_conversion"
	EventTriggerFired         = "trigger_fired"
	EventOfferShown           = "offer_shown"
	EventOfferAccepted        = "offer_accepted"
	EventOfferClosed          = "offer_closed"
	EventFunnelStep           = "funnel_step"
	EventFunnelConversion     = "funnel_conversion"
	EventNotificationSent     = "notification_sent"
)

// Properties carries event attributes.
type Properties map[string]any

// Event is the wire form published to brokers.
type Event struct {
	Name       string     `json:"event"`
	Properties Properties `json:"properties,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Sink receives events.
type Sink interface {
	Emit(name string, props Properties)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(string, Properties) {}

// OrNop returns s, or a discarding sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Multi fans each event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(name string, props Properties) {
	for _, s := range m {
		s.Emit(name, props)
	}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

func (r *Recorder) Emit(name string, props Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Properties: props, Timestamp: r.now()})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
