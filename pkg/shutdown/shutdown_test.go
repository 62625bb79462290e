package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestShutDownWaitsForGuards(t *testing.T) {
	c := New()
	g1 := c.Guard()
	g2 := c.Guard()

	completion := c.ShutDown()
	if !c.IsShuttingDown() {
		t.Fatalf("expected shutting down")
	}

	select {
	case <-completion.Done():
		t.Fatalf("completed with live guards")
	case <-time.After(10 * time.Millisecond):
	}

	g1.Release()
	g1.Release() // idempotent
	select {
	case <-completion.Done():
		t.Fatalf("completed with one live guard")
	case <-time.After(10 * time.Millisecond):
	}

	g2.Release()
	select {
	case <-completion.Done():
	case <-time.After(time.Second):
		t.Fatalf("did not complete after all guards released")
	}
}

func TestShutDownWithoutGuardsCompletesImmediately(t *testing.T) {
	c := New()
	completion := c.ShutDown()
	if err := completion.Wait(context.Background()); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}

func TestSignalClosesOnShutdown(t *testing.T) {
	c := New()
	select {
	case <-c.Signal():
		t.Fatalf("signal closed before shutdown")
	default:
	}

	c.ShutDown()
	select {
	case <-c.Signal():
	default:
		t.Fatalf("signal not closed after shutdown")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	c := New()
	g := c.Guard()
	defer g.Release()

	completion := c.ShutDown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := completion.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGuardAfterShutdownStillTracked(t *testing.T) {
	c := New()
	g := c.Guard()
	completion := c.ShutDown()

	// A guard acquired before completion keeps the drain open.
	late := c.Guard()
	g.Release()
	select {
	case <-completion.Done():
		t.Fatalf("completed with late guard live")
	case <-time.After(10 * time.Millisecond):
	}
	late.Release()
	if err := completion.Wait(context.Background()); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}
