// ABOUTME: Detached background task runner with a log and metrics sink for failures
// ABOUTME: Shutdown waits for in-flight tasks through the registry WaitGroup

package session

import (
	"context"
	"time"

	"github.com/2389/wa-gateway/internal/metrics"
)

// backgroundTimeout bounds one fire-and-forget task.
const backgroundTimeout = 30 * time.Second

// goBackground runs fn without blocking the caller. Failures are logged
// and counted; they never reach the dispatcher.
func (r *Registry) goBackground(task, tid string, fn func(ctx context.Context) error) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			metrics.BackgroundFailures.WithLabelValues(task).Inc()
			r.logger.Error("background task failed", "task", task, "tenant", tid, "error", err)
		}
	}()
}
