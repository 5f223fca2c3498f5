package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordStampsIDAndTimestamp(t *testing.T) {
	sink := NewChannelSink(1)
	log := NewLog(sink, zap.NewNop())

	log.Record(context.Background(), Event{EventType: EventLogin, Success: true})

	select {
	case event := <-sink.Events():
		if event.ID == "" {
			t.Fatal("expected generated event ID")
		}
		if event.Timestamp.IsZero() {
			t.Fatal("expected stamped timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("expected event on channel sink")
	}
}

type panickingSink struct{}

func (panickingSink) Emit(context.Context, Event) { panic("sink exploded") }

func TestRecordNeverPanics(t *testing.T) {
	log := NewLog(panickingSink{}, zap.NewNop())

	// Must not propagate the sink panic to the auth flow.
	log.Record(context.Background(), Event{EventType: EventLogin, Success: false})
}

func TestNilLogAndNilSinkAreSafe(t *testing.T) {
	var log *Log
	log.Record(context.Background(), Event{EventType: EventLogin})

	NewLog(nil, zap.NewNop()).Record(context.Background(), Event{EventType: EventLogin})
}

func TestZapSinkSeverityRouting(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))
	ctx := context.Background()

	sink.Emit(ctx, Event{EventType: EventLogin, Success: true})
	sink.Emit(ctx, Event{EventType: EventLogin, Success: false})
	sink.Emit(ctx, Event{EventType: EventLockout, Success: true})
	sink.Emit(ctx, Event{EventType: EventRateLimited, Success: true})

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.WarnLevel, zapcore.WarnLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %d: expected level %v, got %v", i, want[i], entry.Level)
		}
	}
}

func TestJSONWriterSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	ctx := context.Background()

	sink.Emit(ctx, Event{ID: "1", EventType: EventLogin, Success: true, Email: "a@b.com"})
	sink.Emit(ctx, Event{ID: "2", EventType: EventOTPSend, Success: false})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var event Event
	if err := json.Unmarshal(lines[0], &event); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if event.ID != "1" || event.EventType != EventLogin || event.Email != "a@b.com" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDispatcherForwardsAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(sink, 16)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{ID: "e", EventType: EventLogin})
	}
	d.Close()

	received := 0
	for {
		select {
		case <-sink.Events():
			received++
		default:
			if received != 5 {
				t.Fatalf("expected 5 forwarded events, got %d", received)
			}
			return
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// A sink that never returns wedges the worker; the dispatcher must
	// drop instead of blocking the caller. Close would wait on the wedged
	// worker, so the dispatcher is deliberately leaked here.
	d := NewDispatcher(blockedSink{}, 1)

	for i := 0; i < 64; i++ {
		d.Emit(context.Background(), Event{EventType: EventLogin})
	}

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}
}

type blockedSink struct{}

func (blockedSink) Emit(_ context.Context, _ Event) { select {} }
