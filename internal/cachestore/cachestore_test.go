package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/streamproto"
)

func TestPutThenGet(t *testing.T) {
	s, err := New(16)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	for !s.running.Load() {
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Apply(ctx, streamproto.KVPayload{Op: streamproto.KVOpPut, Key: "k", Value: []byte("v")}); err != nil {
		t.Fatalf("apply put: %v", err)
	}
	result, err := s.Get(ctx, streamproto.KVGetPayload{Key: "k"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !result.Found || string(result.Value) != "v" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, _ := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	for !s.running.Load() {
		time.Sleep(time.Millisecond)
	}

	result, err := s.Get(ctx, streamproto.KVGetPayload{Key: "absent"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if result.Found {
		t.Fatal("expected Found=false for missing key")
	}
}

func TestDelete(t *testing.T) {
	s, _ := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	for !s.running.Load() {
		time.Sleep(time.Millisecond)
	}

	s.Apply(ctx, streamproto.KVPayload{Op: streamproto.KVOpPut, Key: "k", Value: []byte("v")})
	if _, err := s.Apply(ctx, streamproto.KVPayload{Op: streamproto.KVOpDelete, Key: "k"}); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	result, _ := s.Get(ctx, streamproto.KVGetPayload{Key: "k"})
	if result.Found {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestHandlerUnavailableBeforeStart(t *testing.T) {
	s, _ := New(16)
	ctx := context.Background()
	_, err := s.Get(ctx, streamproto.KVGetPayload{Key: "k"})
	if err != apperrors.ErrHandlerUnavailable {
		t.Fatalf("expected ErrHandlerUnavailable, got %v", err)
	}
}

func TestHandlerUnavailableAfterStop(t *testing.T) {
	s, _ := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	// give the handler goroutine a moment to mark itself running
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	_, err := s.Get(context.Background(), streamproto.KVGetPayload{Key: "k"})
	if err != apperrors.ErrHandlerUnavailable {
		t.Fatalf("expected ErrHandlerUnavailable after stop, got %v", err)
	}
}
