package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/vcsfu/core/internal/diag"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	bus := diag.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, bus, 10*time.Millisecond)
		close(done)
	}()

	bus.Publish(diag.Event{Subsystem: "jitter", Metrics: map[string]float64{"bytes": 1200}})
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
