package session

import (
	"context"
	"testing"
	"time"
)

func newTestSession(id string, started time.Time) (*VoiceSession, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &VoiceSession{ID: id, ctx: ctx, cancel: cancel, startedAt: started}, ctx
}

func TestRegistryRegisterAndSnapshots(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	a, _ := newTestSession("a", now.Add(time.Second))
	b, _ := newTestSession("b", now)

	unregisterA := r.Register(a)
	unregisterB := r.Register(b)
	if r.Count() != 2 {
		t.Fatalf("expected two sessions, got %d", r.Count())
	}
	snaps := r.Snapshots()
	if snaps[0].SessionID != "b" || snaps[1].SessionID != "a" {
		t.Fatalf("snapshots not ordered by start: %+v", snaps)
	}
	if got, ok := r.Get("a"); !ok || got != a {
		t.Fatal("lookup failed")
	}

	unregisterA()
	unregisterA()
	unregisterB()
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !r.Wait(ctx) {
		t.Fatal("wait should return once all sessions unregister")
	}
}

func TestRegistryReplacesDuplicateID(t *testing.T) {
	r := NewRegistry()
	old, oldCtx := newTestSession("dup", time.Now())
	fresh, freshCtx := newTestSession("dup", time.Now())

	unregisterOld := r.Register(old)
	r.Register(fresh)

	if oldCtx.Err() == nil {
		t.Fatal("evicted session should be canceled")
	}
	unregisterOld()
	if got, ok := r.Get("dup"); !ok || got != fresh || freshCtx.Err() != nil {
		t.Fatal("stale unregister must not remove the replacement")
	}
}

func TestRegistryCancelAllAndWait(t *testing.T) {
	r := NewRegistry()
	s, ctx := newTestSession("x", time.Now())
	unregister := r.Register(s)

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if r.Wait(waitCtx) {
		t.Fatal("wait should time out while a session is live")
	}

	if n := r.CancelAll(); n != 1 || ctx.Err() == nil {
		t.Fatalf("expected one canceled session, got %d", n)
	}
	unregister()
	if !r.Wait(context.Background()) {
		t.Fatal("wait should succeed after unregister")
	}
}
