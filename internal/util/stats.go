package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide call counter set.
var Stats = &stats{}

type stats struct {
	SessionsOpened atomic.Int64 // remote sessions created (including recreations)
	SessionsClosed atomic.Int64 // remote sessions torn down
	EnvelopesSent  atomic.Int64 // relay frames written
	EnvelopesRecv  atomic.Int64 // relay frames read
	Retries        atomic.Int64 // transport-failure retries fired
	MediaBytesRecv atomic.Int64 // RTP payload bytes read from remote tracks
}

func (s *stats) AddSession()        { s.SessionsOpened.Add(1) }
func (s *stats) RemoveSession()     { s.SessionsClosed.Add(1) }
func (s *stats) AddSent()           { s.EnvelopesSent.Add(1) }
func (s *stats) AddRecv()           { s.EnvelopesRecv.Add(1) }
func (s *stats) AddRetry()          { s.Retries.Add(1) }
func (s *stats) AddMediaRecv(n int) { s.MediaBytesRecv.Add(int64(n)) }

// Active is the number of sessions currently open.
func (s *stats) Active() int64 { return s.SessionsOpened.Load() - s.SessionsClosed.Load() }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics every
// interval while anything changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevMedia, prevRetries int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.EnvelopesSent.Load()
				recv := Stats.EnvelopesRecv.Load()
				media := Stats.MediaBytesRecv.Load()
				retries := Stats.Retries.Load()

				secs := interval.Seconds()
				mediaS := float64(media-prevMedia) / secs

				if sent != prevSent || recv != prevRecv || mediaS > 10 || retries != prevRetries {
					pterm.DefaultLogger.Info(formatStats(Stats.Active(), sent-prevSent, recv-prevRecv, mediaS, retries-prevRetries))
				}

				prevSent = sent
				prevRecv = recv
				prevMedia = media
				prevRetries = retries

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(peers, sent, recv int64, mediaS float64, retries int64) string {
	return fmt.Sprintf("Peers: %2d | Signal: %3d↑ %3d↓ | Media: %s/s | Retries: %d",
		peers,
		sent,
		recv,
		formatBytes(mediaS),
		retries,
	)
}
