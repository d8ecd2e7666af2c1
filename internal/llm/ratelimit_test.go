package llm

import (
	"context"
	"testing"
	"time"
)

func TestNilLimiterIsANoOp(t *testing.T) {
	var l *rpsLimiter
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Stop()

	if newRPSLimiter(0, 5) != nil {
		t.Fatal("rps<=0 should disable the limiter")
	}
}

func TestLimiterBurstThenBlocks(t *testing.T) {
	l := newRPSLimiter(1, 2)
	defer l.Stop()

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(short); err == nil {
		t.Fatal("third acquire within the burst window should block")
	}
}

func TestLimiterStopUnblocks(t *testing.T) {
	l := newRPSLimiter(0.001, 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background()) }()
	l.Stop()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("acquire after Stop should fail")
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock on Stop")
	}
}
