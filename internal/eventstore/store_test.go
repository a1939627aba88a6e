package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.StartCall(ctx, Call{SessionID: "s"}); err != nil {
		t.Fatalf("ephemeral start call: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("ephemeral store should record nothing: %v %v", events, err)
	}
}

func TestCallTimeline(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	sessionID := "voice-9876543210-abcd1234"
	if err := es.StartCall(ctx, Call{SessionID: sessionID, CallSID: "CA1", Phone: "9876543210", Language: "hi-en"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sessionID, Type: "call.started", Payload: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sessionID, Type: "call.turn", Turn: 1, Payload: []byte("turn")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.EndCall(ctx, sessionID, "stop", 1); err != nil {
		t.Fatalf("end call: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "call.started" || events[1].Turn != 1 || string(events[1].Payload) != "turn" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to round-trip")
	}

	calls, err := es.RecentCalls(ctx, 10)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.CallSID != "CA1" || call.EndReason != "stop" || call.Turns != 1 || call.EndedAt.IsZero() {
		t.Fatalf("unexpected call summary: %+v", call)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.StartCall(context.Background(), Call{SessionID: "old-session"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.StartCall(context.Background(), Call{SessionID: "new-session"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	calls, err := es.RecentCalls(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	if len(calls) != 1 || calls[0].SessionID != "new-session" {
		t.Fatalf("expected only the new session to remain, got %+v", calls)
	}
}
