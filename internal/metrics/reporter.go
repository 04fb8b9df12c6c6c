package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/1ureka/uap/internal/util"
)

// StartReporter launches a goroutine that logs traffic and session churn
// every interval. Quiet intervals are skipped. It stops when ctx is cancelled.
func (m *Metrics) StartReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := m.snapshot()
				secs := interval.Seconds()

				inS := float64(cur.recv-prev.recv) / secs
				outS := float64(cur.sent-prev.sent) / secs
				opened := cur.opened - prev.opened
				closed := cur.closed - prev.closed

				if opened > 0 || closed > 0 || inS > 10 || outS > 10 {
					util.LogInfo("%s", formatStats(inS, outS, opened, closed))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sent, recv, opened, closed int64
}

func (m *Metrics) snapshot() snapshot {
	return snapshot{
		sent:   m.bytesSent.Load(),
		recv:   m.bytesRecv.Load(),
		opened: m.totalOpened.Load(),
		closed: m.totalClosed.Load(),
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporter line.
func formatStats(inS, outS float64, opened, closed int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		opened,
		closed,
	)
}
