package loadbot

import (
	"context"
	"testing"
	"time"

	"github.com/vcsfu/core/internal/diag"
	"github.com/vcsfu/core/internal/roomsrv"
)

func TestRunJoinsRoomAndStopsOnCancel(t *testing.T) {
	rooms := roomsrv.New(diag.NewBus())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, rooms, "loadtest-room", "bot1")
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for rooms.RoomSize("loadtest-room") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rooms.RoomSize("loadtest-room") != 1 {
		t.Fatalf("expected the bot to join loadtest-room, size=%d", rooms.RoomSize("loadtest-room"))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if rooms.RoomSize("loadtest-room") != 0 {
		t.Fatalf("expected the bot to leave on shutdown, size=%d", rooms.RoomSize("loadtest-room"))
	}
}

func TestSynthesizeTonePhaseContinuity(t *testing.T) {
	var phase float64
	a := synthesizeTone(&phase)
	b := synthesizeTone(&phase)
	if len(a) != samplesPerF*2 || len(b) != samplesPerF*2 {
		t.Fatalf("unexpected frame length: %d, %d", len(a), len(b))
	}
	if phase == 0 {
		t.Fatal("expected phase to advance across calls")
	}
}
