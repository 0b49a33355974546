// Package events publishes connection lifecycle and request audit records.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/geogate/health"
	"github.com/c360/geogate/metric"
)

// Connection event kinds.
const (
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
	KindEvicted      = "evicted"
	KindRejected     = "rejected"
)

// ConnectionEvent describes a WebSocket connection changing state.
type ConnectionEvent struct {
	Kind      string    `json:"kind"`
	ClientID  string    `json:"client_id,omitempty"`
	Cause     string    `json:"cause,omitempty"`
	Active    int       `json:"active_connections"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestEvent is the audit record of one dispatched action.
type RequestEvent struct {
	Action     string    `json:"action"`
	Transport  string    `json:"transport"`
	ClientID   string    `json:"client_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Status     string    `json:"status"`
	Info       string    `json:"info,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink is where encoded events go. *natsclient.Client satisfies it.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Emitter is what transports call. Implementations never fail the caller.
type Emitter interface {
	Connection(ctx context.Context, ev ConnectionEvent)
	Request(ctx context.Context, ev RequestEvent)
}

// Publisher encodes events as JSON and hands them to a Sink. A Publisher
// with a nil Sink drops everything.
type Publisher struct {
	sink    Sink
	prefix  string
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
}

// NewPublisher creates a Publisher. Subjects are
// <prefix>.connection.<kind> and <prefix>.request.<action>.
func NewPublisher(sink Sink, prefix string, logger *slog.Logger, metrics *metric.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "geogate"
	}
	return &Publisher{
		sink:    sink,
		prefix:  prefix,
		logger:  logger.With("component", "events"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Nop returns an Emitter that drops every event.
func Nop() Emitter { return &Publisher{logger: slog.Default()} }

// Connection publishes a connection event.
func (p *Publisher) Connection(ctx context.Context, ev ConnectionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
	p.publish(ctx, "connection", p.prefix+".connection."+ev.Kind, ev)
}

// Request publishes a request audit record. Info is sanitized.
func (p *Publisher) Request(ctx context.Context, ev RequestEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
	ev.Info = health.SanitizeError(ev.Info)
	p.publish(ctx, "request", p.prefix+".request."+subjectToken(ev.Action), ev)
}

func (p *Publisher) publish(ctx context.Context, kind, subject string, v any) {
	if p.sink == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.metrics.RecordEvent(kind, false)
		p.logger.Error("encode event", "subject", subject, "error", err)
		return
	}
	if err := p.sink.Publish(ctx, subject, data); err != nil {
		p.metrics.RecordEvent(kind, false)
		p.logger.Warn("publish event", "subject", subject, "error", err)
		return
	}
	p.metrics.RecordEvent(kind, true)
}

// subjectToken keeps caller-supplied action names from adding NATS subject
// levels or wildcards.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	b := []byte(s)
	for i, c := range b {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			b[i] = '_'
		}
	}
	return string(b)
}
