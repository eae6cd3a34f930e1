package clientbuf

import (
	"sync"
	"testing"
)

func TestBuffer_FIFOOrder(t *testing.T) {
	var b Buffer
	b.Push([]byte("a"))
	b.Push([]byte("b"))
	b.Push([]byte("c"))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := b.TryPop()
		if !ok {
			t.Fatalf("expected a frame, buffer empty")
		}
		if string(got) != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
	if _, ok := b.TryPop(); ok {
		t.Error("expected buffer to be empty")
	}
}

func TestBuffer_PushFront(t *testing.T) {
	var b Buffer
	b.Push([]byte("second"))
	b.PushFront([]byte("first"))

	got, ok := b.TryPop()
	if !ok || string(got) != "first" {
		t.Fatalf("expected 'first' at head, got %q ok=%v", got, ok)
	}
	got, ok = b.TryPop()
	if !ok || string(got) != "second" {
		t.Fatalf("expected 'second' next, got %q ok=%v", got, ok)
	}
}

func TestBuffer_Len(t *testing.T) {
	var b Buffer
	if b.Len() != 0 {
		t.Fatalf("expected 0, got %d", b.Len())
	}
	b.Push([]byte("x"))
	b.Push([]byte("y"))
	if b.Len() != 2 {
		t.Fatalf("expected 2, got %d", b.Len())
	}
}

func TestRegistry_GetIsIdempotent(t *testing.T) {
	var r Registry
	b1 := r.Get("client-1")
	b2 := r.Get("client-1")
	if b1 != b2 {
		t.Fatal("expected Get to return the same buffer instance for the same client id")
	}
}

func TestRegistry_SurvivesAcrossLookups(t *testing.T) {
	var r Registry
	r.Get("client-1").Push([]byte("buffered"))

	got, ok := r.Get("client-1").TryPop()
	if !ok || string(got) != "buffered" {
		t.Fatalf("expected buffered frame to survive across Get calls, got %q ok=%v", got, ok)
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	var r Registry
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Get("shared-client").Push([]byte("f"))
		}()
	}
	wg.Wait()
	if r.Len("shared-client") != 50 {
		t.Errorf("expected 50 buffered frames, got %d", r.Len("shared-client"))
	}
}

func TestRegistry_ClientIDs(t *testing.T) {
	var r Registry
	r.Get("a")
	r.Get("b")
	ids := r.ClientIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 client ids, got %d", len(ids))
	}
}

func TestRegistry_LenUnknownClient(t *testing.T) {
	var r Registry
	if r.Len("nope") != 0 {
		t.Error("expected 0 for unregistered client")
	}
}
