// Package resync rebuilds engine-side queue state from the durable
// store. The engine has no durability of its own, so this runs at every
// startup before the service accepts traffic.
package resync

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/tbendali/taskdeck/internal/engine"
	"github.com/tbendali/taskdeck/internal/observability"
	"github.com/tbendali/taskdeck/internal/tasks"
)

type Resynchronizer struct {
	store   tasks.Store
	engine  engine.Client
	metrics *observability.Metrics
}

func New(store tasks.Store, eng engine.Client, metrics *observability.Metrics) *Resynchronizer {
	return &Resynchronizer{store: store, engine: eng, metrics: metrics}
}

// Run replays every owner's durable queue into the engine, preserving
// FIFO order within each owner. Individual replay failures are logged
// and skipped: a partial resync beats blocking startup, and the durable
// store stays authoritative either way. Entries are de-duplicated by
// task ID before replay so running twice cannot inflate the engine's
// queues.
func (r *Resynchronizer) Run(ctx context.Context) error {
	// Seed the engine's id cursor so any ids it mints internally can
	// never collide with ones already persisted.
	if err := r.engine.InitNextID(ctx, uuid.NewString()); err != nil {
		log.Printf("resync: seeding engine id cursor failed: %v", err)
	}

	owners, err := r.store.QueueOwners(ctx)
	if err != nil {
		return err
	}

	replayed, skipped := 0, 0
	for _, userID := range owners {
		entries, err := r.store.LoadQueue(ctx, userID)
		if err != nil {
			log.Printf("resync: load queue for %s failed: %v", userID, err)
			skipped++
			continue
		}

		seen := make(map[string]bool, len(entries))
		for _, entry := range entries {
			if seen[entry.TaskID] {
				continue
			}
			seen[entry.TaskID] = true

			if err := r.engine.AddToQueue(ctx, userID, entry.TaskID); err != nil {
				log.Printf("resync: replay %s/%s failed: %v", userID, entry.TaskID, err)
				r.observe("failed")
				skipped++
				continue
			}
			r.observe("ok")
			replayed++
		}
	}

	log.Printf("resync: replayed %d queue entries across %d owners (%d skipped)", replayed, len(owners), skipped)
	return nil
}

func (r *Resynchronizer) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.ResyncReplays.WithLabelValues(outcome).Inc()
	}
}
