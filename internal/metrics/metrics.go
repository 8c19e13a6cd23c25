// Package metrics adapts the teacher's RunMetrics periodic logger
// (metrics.go) from a direct *Room.Stats() poll into a diagnostics-bus
// consumer (E2): it subscribes to the process-wide diag.Bus and logs a
// rolled-up line per interval, formatting byte rates with go-humanize the
// way the rest of the pack's operator-facing tooling does.
package metrics

import (
	"context"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vcsfu/core/internal/diag"
)

// Run subscribes to bus and logs aggregate throughput every interval until
// ctx is canceled.
func Run(ctx context.Context, bus *diag.Bus, interval time.Duration) {
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var count uint64
	var byteTotal float64
	seenSubsystems := map[string]uint64{}

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			count++
			seenSubsystems[e.Subsystem]++
			if b, ok := e.Metrics["bytes"]; ok {
				byteTotal += b
			}
		case <-ticker.C:
			if count == 0 {
				continue
			}
			log.Printf("[metrics] events=%d subsystems=%d throughput=%s/s subscribers=%d",
				count, len(seenSubsystems), humanize.Bytes(uint64(byteTotal/interval.Seconds())), bus.SubscriberCount())
			count = 0
			byteTotal = 0
			seenSubsystems = map[string]uint64{}
		}
	}
}
