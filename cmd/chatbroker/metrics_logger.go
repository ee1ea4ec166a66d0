package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-chat-broker/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"accepted", snap.Accepted,
					"rejected", snap.Rejected,
					"active", snap.Active,
					"posts_received", snap.PostsReceived,
					"posts_broadcast", snap.PostsBroadcast,
					"queue_drops", snap.QueueDrops,
					"decode_errors", snap.DecodeErrors,
					"malformed_posts", snap.MalformedPosts,
					"shell_submitted", snap.ShellSubmitted,
					"shell_finished", snap.ShellFinished,
					"shell_dropped", snap.ShellDropped,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
