// Package audit emits append-only security events. Recording is
// side-effect-only: it never returns an error and never fails the calling
// flow, whatever the sink does.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types recorded by the auth flows.
const (
	EventLogin          = "login"
	EventLockout        = "account_lockout"
	EventRateLimited    = "rate_limited"
	EventOTPSend        = "otp_send"
	EventOTPVerify      = "otp_verify"
	EventPasswordChange = "password_change"
	EventTokenRefresh   = "token_refresh"
)

// Event is the canonical security event model.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Success   bool              `json:"success"`
	Email     string            `json:"email,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// warnWorthy reports whether the event routes to warn severity: every
// failure, plus lockout and rate-limit events regardless of outcome.
func (e Event) warnWorthy() bool {
	if !e.Success {
		return true
	}
	return e.EventType == EventLockout || e.EventType == EventRateLimited
}

// Sink receives emitted events. Implementations must not panic.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ZapSink writes events to a structured logger, warn for failures and
// lockout/rate-limit events, info otherwise.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.String("id", event.ID),
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.Email != "" {
		fields = append(fields, zap.String("email", event.Email))
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.UserAgent))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	if event.warnWorthy() {
		s.logger.Warn("security event", fields...)
		return
	}
	s.logger.Info("security event", fields...)
}

// ChannelSink writes events into a buffered channel, for monitoring taps
// and tests.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// Log is the append-only security audit trail used by the auth flows.
type Log struct {
	sink   Sink
	logger *zap.Logger
}

// NewLog creates a Log writing to sink. A nil sink drops events.
func NewLog(sink Sink, logger *zap.Logger) *Log {
	if sink == nil {
		sink = NoOpSink{}
	}
	return &Log{sink: sink, logger: logger}
}

// Record stamps and emits the event. It never returns an error; a
// misbehaving sink is contained and self-logged.
func (l *Log) Record(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("audit sink panicked", zap.Any("panic", r))
		}
	}()

	l.sink.Emit(ctx, event)
}
