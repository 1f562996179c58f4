package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ephyr-control/ephyrsub/internal/domain"
)

// DefaultInstanceTTL is the default TTL for mirrored instance states (48 hours)
const DefaultInstanceTTL = 48 * time.Hour

// ErrNotFound is returned when an address has no mirrored state.
var ErrNotFound = errors.New("instance state not found")

// Store mirrors instance states and diffs into Redis
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		ttl:    DefaultInstanceTTL,
	}
}

// DiffEvent is the message published for every non-empty diff.
type DiffEvent struct {
	Address string      `json:"address"`
	At      time.Time   `json:"at"`
	Changes domain.Diff `json:"changes"`
}

// SaveInstance stores one instance state in Redis
func (s *Store) SaveInstance(ctx context.Context, st domain.InstanceState) error {
	data, err := encodeState(st)
	if err != nil {
		return fmt.Errorf("failed to marshal instance state: %w", err)
	}

	addr := st.Address()
	if err := s.client.Set(ctx, InstanceKey(addr), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save instance state: %w", err)
	}
	if err := s.client.SAdd(ctx, AllInstancesKey(), addr).Err(); err != nil {
		return fmt.Errorf("failed to add instance to set: %w", err)
	}
	return nil
}

// SaveInstancesMany stores a whole snapshot in one pipeline
func (s *Store) SaveInstancesMany(ctx context.Context, states map[string]domain.InstanceState) error {
	if len(states) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for addr, st := range states {
		data, err := encodeState(st)
		if err != nil {
			return fmt.Errorf("failed to marshal instance state %s: %w", addr, err)
		}
		pipe.Set(ctx, InstanceKey(addr), data, s.ttl)
		pipe.SAdd(ctx, AllInstancesKey(), addr)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save instance states: %w", err)
	}
	return nil
}

// GetInstance retrieves the mirrored state of addr
func (s *Store) GetInstance(ctx context.Context, addr string) (domain.InstanceState, error) {
	data, err := s.client.Get(ctx, InstanceKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.InstanceState{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return domain.InstanceState{}, fmt.Errorf("failed to get instance state: %w", err)
	}

	var st domain.InstanceState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.InstanceState{}, fmt.Errorf("failed to unmarshal instance state: %w", err)
	}
	return st, nil
}

// GetAllInstances retrieves every mirrored state, keyed by address.
// Entries that expired or fail to decode are skipped.
func (s *Store) GetAllInstances(ctx context.Context) (map[string]domain.InstanceState, error) {
	addrs, err := s.client.SMembers(ctx, AllInstancesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance addresses: %w", err)
	}

	out := make(map[string]domain.InstanceState, len(addrs))
	for _, addr := range addrs {
		st, err := s.GetInstance(ctx, addr)
		if err != nil {
			continue
		}
		out[addr] = st
	}
	return out, nil
}

// DeleteInstance removes a mirrored state
func (s *Store) DeleteInstance(ctx context.Context, addr string) error {
	if err := s.client.Del(ctx, InstanceKey(addr)).Err(); err != nil {
		return fmt.Errorf("failed to delete instance state: %w", err)
	}
	if err := s.client.SRem(ctx, AllInstancesKey(), addr).Err(); err != nil {
		return fmt.Errorf("failed to remove instance from set: %w", err)
	}
	return nil
}

// PruneInstances deletes mirrored states whose address is not in keep,
// including orphan keys missing from the set, and returns how many were
// removed.
func (s *Store) PruneInstances(ctx context.Context, keep []string) (int, error) {
	addrs, err := s.client.SMembers(ctx, AllInstancesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get instance addresses: %w", err)
	}

	removed := 0
	for _, addr := range addrs {
		if slices.Contains(keep, addr) {
			continue
		}
		if err := s.DeleteInstance(ctx, addr); err != nil {
			return removed, err
		}
		removed++
	}

	// keys left behind without a set entry
	iter := s.client.Scan(ctx, 0, KeyPrefixInstance+"*", 100).Iterator()
	for iter.Next(ctx) {
		addr, err := ExtractAddress(iter.Val())
		if err != nil || slices.Contains(keep, addr) {
			continue
		}
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete orphan key: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan instance keys: %w", err)
	}
	return removed, nil
}

// PublishDiff publishes the diff of one instance on ChannelDiffs
func (s *Store) PublishDiff(ctx context.Context, addr string, diff domain.Diff) error {
	data, err := json.Marshal(DiffEvent{Address: addr, At: time.Now().UTC(), Changes: diff})
	if err != nil {
		return fmt.Errorf("failed to marshal diff: %w", err)
	}
	if err := s.client.Publish(ctx, ChannelDiffs, data).Err(); err != nil {
		return fmt.Errorf("failed to publish diff: %w", err)
	}
	return nil
}

// encodeState serializes st without its credential; the configured identity
// is authoritative on restore anyway.
func encodeState(st domain.InstanceState) ([]byte, error) {
	st.Password = ""
	return json.Marshal(st)
}
