// README: Dispatch store backed by Redis strings and sets.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ridematch/internal/types"
)

const (
	dispatchKeyPrefix = "dispatch:trip:%s:dispatched_at"
	notifiedKeyPrefix = "dispatch:trip:%s:notified"
	// TTL for dispatch keys (trips should resolve well within 7 days).
	keyTTL = 7 * 24 * time.Hour
)

type Store interface {
	RecordDispatch(ctx context.Context, tripID types.ID, driverIDs []types.ID, at time.Time) error
	// GetDispatch returns ErrNoDispatch when the trip was never dispatched.
	GetDispatch(ctx context.Context, tripID types.ID) (*Record, error)
}

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

// RecordDispatch records the dispatch timestamp and the set of notified drivers for a trip.
func (s *RedisStore) RecordDispatch(ctx context.Context, tripID types.ID, driverIDs []types.ID, at time.Time) error {
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, dispatchedAtKey(tripID), at.UTC().Format(time.RFC3339Nano), keyTTL)
	if len(driverIDs) > 0 {
		members := make([]interface{}, len(driverIDs))
		for i, d := range driverIDs {
			members[i] = string(d)
		}
		pipe.SAdd(ctx, notifiedKey(tripID), members...)
		pipe.Expire(ctx, notifiedKey(tripID), keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetDispatch(ctx context.Context, tripID types.ID) (*Record, error) {
	val, err := s.redis.Get(ctx, dispatchedAtKey(tripID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoDispatch
	}
	if err != nil {
		return nil, err
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("parse dispatched_at: %w", err)
	}
	members, err := s.redis.SMembers(ctx, notifiedKey(tripID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	rec := &Record{TripID: tripID, DispatchedAt: at, Notified: make([]types.ID, len(members))}
	for i, m := range members {
		rec.Notified[i] = types.ID(m)
	}
	return rec, nil
}

func dispatchedAtKey(tripID types.ID) string {
	return fmt.Sprintf(dispatchKeyPrefix, string(tripID))
}

func notifiedKey(tripID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(tripID))
}

// MemoryStore keeps dispatch records in process, for the memory driver and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[types.ID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[types.ID]Record)}
}

func (s *MemoryStore) RecordDispatch(_ context.Context, tripID types.ID, driverIDs []types.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	notified := append([]types.ID(nil), driverIDs...)
	sort.Slice(notified, func(i, j int) bool { return notified[i] < notified[j] })
	s.records[tripID] = Record{TripID: tripID, DispatchedAt: at.UTC(), Notified: notified}
	return nil
}

func (s *MemoryStore) GetDispatch(_ context.Context, tripID types.ID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tripID]
	if !ok {
		return nil, ErrNoDispatch
	}
	rec.Notified = append([]types.ID{}, rec.Notified...)
	return &rec, nil
}
