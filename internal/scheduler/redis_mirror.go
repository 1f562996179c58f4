package scheduler

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/logger"
)

// DefaultMirrorInterval is how often the snapshot is pushed to Redis
const DefaultMirrorInterval = 5 * time.Second

// MirrorStore is the part of the Redis store the mirror writes to.
type MirrorStore interface {
	SaveInstance(ctx context.Context, st domain.InstanceState) error
	SaveInstancesMany(ctx context.Context, states map[string]domain.InstanceState) error
	PruneInstances(ctx context.Context, keep []string) (int, error)
	PublishDiff(ctx context.Context, addr string, diff domain.Diff) error
}

// MirrorSource is the aggregate as seen by the mirror.
type MirrorSource interface {
	Snapshotter
	Get(addr string) (domain.InstanceState, bool)
}

// RedisMirror pushes the aggregate snapshot to Redis on a fixed cadence and
// publishes diffs as they happen. Redis is best effort: failures are logged
// and never reach the subscription tasks.
type RedisMirror struct {
	store    MirrorStore
	source   MirrorSource
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewRedisMirror creates a new Redis mirror
func NewRedisMirror(
	store MirrorStore,
	source MirrorSource,
	log logger.Logger,
	interval time.Duration,
) *RedisMirror {
	if interval <= 0 {
		interval = DefaultMirrorInterval
	}
	return &RedisMirror{
		store:    store,
		source:   source,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start prunes addresses that are no longer configured, mirrors once and
// then keeps mirroring in the background until Stop or ctx is done.
func (m *RedisMirror) Start(ctx context.Context) error {
	snap := m.source.Snapshot()
	removed, err := m.store.PruneInstances(ctx, slices.Sorted(maps.Keys(snap)))
	if err != nil {
		m.logger.Warn("failed to prune stale instances from redis", logger.Error(err))
	} else if removed > 0 {
		m.logger.Info("pruned stale instances from redis", logger.Int("removed", removed))
	}

	if err := m.Mirror(ctx); err != nil {
		m.logger.Warn("initial redis mirror failed", logger.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Mirror(ctx); err != nil {
					m.logger.Error("redis mirror failed", logger.Error(err))
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the background loop
func (m *RedisMirror) Stop() {
	close(m.stopCh)
}

// Mirror writes the current snapshot to Redis
func (m *RedisMirror) Mirror(ctx context.Context) error {
	snap := m.source.Snapshot()
	if err := m.store.SaveInstancesMany(ctx, snap); err != nil {
		return err
	}
	m.logger.Debug("mirrored state to redis", logger.Int("instances", len(snap)))
	return nil
}

// HandleDiff stores the changed instance and publishes a non-empty diff on
// the diff channel.
func (m *RedisMirror) HandleDiff(ctx context.Context, addr string, diff domain.Diff) {
	if diff.Empty() {
		return
	}
	if st, ok := m.source.Get(addr); ok {
		if err := m.store.SaveInstance(ctx, st); err != nil {
			m.logger.Warn("failed to mirror instance",
				logger.String("address", addr),
				logger.Error(err))
		}
	}
	if err := m.store.PublishDiff(ctx, addr, diff); err != nil {
		m.logger.Warn("failed to publish diff",
			logger.String("address", addr),
			logger.Error(err))
	}
}
