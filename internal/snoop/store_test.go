package snoop

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client)
}

func TestCreate_RejectsWhenActiveExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Create(ctx, "call-1", "snoop-1", "chan-1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.Create(ctx, "call-1", "snoop-2", "chan-1"); err == nil {
		t.Fatalf("expected create to reject an active existing contract")
	}
}

func TestTransition_LegalGraph(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Create(ctx, "call-1", "snoop-1", "chan-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Transition(ctx, "call-1", StateCreated, StateWaitingAST, nil); err != nil {
		t.Fatalf("CREATED->WAITING_AST: %v", err)
	}
	if _, err := s.Transition(ctx, "call-1", StateWaitingAST, StateReady, nil); err != nil {
		t.Fatalf("WAITING_AST->READY: %v", err)
	}
	if _, err := s.Transition(ctx, "call-1", StateReady, StateDestroyed, nil); err == nil {
		t.Fatalf("expected illegal transition READY->DESTROYED to fail")
	}
}

func TestDestroy_IdempotentOnAlreadyDestroyed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Create(ctx, "call-1", "snoop-1", "chan-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Transition(ctx, "call-1", StateCreated, StateWaitingAST, nil); err != nil {
		t.Fatalf("transition 1: %v", err)
	}
	if _, err := s.Transition(ctx, "call-1", StateWaitingAST, StateReady, nil); err != nil {
		t.Fatalf("transition 2: %v", err)
	}
	if _, err := s.Transition(ctx, "call-1", StateReady, StateConsumed, nil); err != nil {
		t.Fatalf("transition 3: %v", err)
	}
	if _, err := s.Release(ctx, "call-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Destroy(ctx, "call-1"); err != nil {
		t.Fatalf("destroy 1: %v", err)
	}
	if _, err := s.Destroy(ctx, "call-1"); err != nil {
		t.Fatalf("destroy 2 (idempotent) should succeed: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Get(ctx, "missing")
	if !infra.IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
}
