package localbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestHandlePublishFanOut(t *testing.T) {
	bus := New[string](nil)
	var got1, got2 atomic.Int32

	sub1, err := bus.Handle("a", func(ctx context.Context, msg string) error {
		got1.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	defer sub1.Close()

	sub2, err := bus.Handle("a", func(ctx context.Context, msg string) error {
		got2.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	defer sub2.Close()

	n := bus.Publish(context.Background(), "a", "hello")
	if n != 2 {
		t.Fatalf("Publish delivered to %d handlers, want 2", n)
	}
	if got1.Load() != 1 || got2.Load() != 1 {
		t.Fatalf("got1=%d got2=%d, want both 1", got1.Load(), got2.Load())
	}
}

func TestPublishNoHandlers(t *testing.T) {
	bus := New[string](nil)
	if n := bus.Publish(context.Background(), "nothing", "x"); n != 0 {
		t.Fatalf("Publish on unknown address = %d, want 0", n)
	}
}

func TestSendRoundRobin(t *testing.T) {
	bus := New[string](nil)
	var calls [3]int32
	for i := 0; i < 3; i++ {
		i := i
		sub, err := bus.Handle("a", func(ctx context.Context, msg string) error {
			calls[i]++
			return nil
		})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		defer sub.Close()
	}

	for i := 0; i < 6; i++ {
		if err := bus.Send(context.Background(), "a", "x"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i, c := range calls {
		if c != 2 {
			t.Errorf("handler %d called %d times, want 2", i, c)
		}
	}
}

func TestSendNoHandlers(t *testing.T) {
	bus := New[string](nil)
	if err := bus.Send(context.Background(), "nothing", "x"); !errors.Is(err, ErrNoHandlers) {
		t.Fatalf("Send on unknown address = %v, want ErrNoHandlers", err)
	}
}

func TestHandleCloseRemovesSubscription(t *testing.T) {
	bus := New[string](nil)
	sub, err := bus.Handle("a", func(ctx context.Context, msg string) error { return nil })
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !bus.HasHandlers("a") {
		t.Fatal("HasHandlers should be true right after Handle")
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bus.HasHandlers("a") {
		t.Fatal("HasHandlers should be false after the only subscription closes")
	}
}

func TestHandleAfterCloseFails(t *testing.T) {
	bus := New[string](nil)
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := bus.Handle("a", func(ctx context.Context, msg string) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Handle after Close = %v, want ErrClosed", err)
	}
}

func TestOnErrorCallback(t *testing.T) {
	var mu sync.Mutex
	var gotAddr string
	var gotErr error
	bus := New[string](func(address string, err error) {
		mu.Lock()
		gotAddr, gotErr = address, err
		mu.Unlock()
	})

	boom := errors.New("boom")
	sub, err := bus.Handle("a", func(ctx context.Context, msg string) error { return boom })
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	defer sub.Close()

	bus.Publish(context.Background(), "a", "x")

	mu.Lock()
	defer mu.Unlock()
	if gotAddr != "a" || !errors.Is(gotErr, boom) {
		t.Fatalf("onError got (%q, %v), want (\"a\", boom)", gotAddr, gotErr)
	}
}
