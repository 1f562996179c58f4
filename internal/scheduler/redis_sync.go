package scheduler

import (
	"context"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/logger"
)

// SyncSource is where previously mirrored states are read from.
type SyncSource interface {
	GetAllInstances(ctx context.Context) (map[string]domain.InstanceState, error)
}

// Restorer accepts previously saved states for already seeded entries.
type Restorer interface {
	Restore(saved map[string]domain.InstanceState) int
}

// RedisSyncer warms the aggregate up from Redis on startup, so the snapshot
// file and the HTTP API show the last known state until live updates arrive.
type RedisSyncer struct {
	source SyncSource
	target Restorer
	logger logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(source SyncSource, target Restorer, log logger.Logger) *RedisSyncer {
	return &RedisSyncer{
		source: source,
		target: target,
		logger: log,
	}
}

// Sync loads mirrored states from Redis into the aggregate
func (rs *RedisSyncer) Sync(ctx context.Context) error {
	rs.logger.Info("syncing instance states from redis to memory")

	states, err := rs.source.GetAllInstances(ctx)
	if err != nil {
		return err
	}

	if len(states) == 0 {
		rs.logger.Info("no instance states found in redis")
		return nil
	}

	restored := rs.target.Restore(states)

	rs.logger.Info("synced instance states from redis",
		logger.Int("found", len(states)),
		logger.Int("restored", restored))

	return nil
}
