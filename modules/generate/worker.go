package generate

import (
	"context"
	"log"
	"time"

	"labubufy-server/modules/common/session"
)

// StartWorker drives every non-terminal session forward on a fixed interval,
// so generations keep making progress even when no client is polling. Safe to
// run alongside the status endpoint: the orchestrator serializes per session.
func StartWorker(ctx context.Context, store session.Store, orch *Orchestrator, interval time.Duration) {
	log.Printf("🔄 [Worker] Status driver started (interval: %v)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 [Worker] Status driver stopped")
			return
		case <-ticker.C:
			for _, sess := range store.List() {
				if sess.Terminal() {
					continue
				}
				go func(id string) {
					checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
					defer cancel()
					orch.Advance(checkCtx, id)
				}(sess.ID)
			}
		}
	}
}
