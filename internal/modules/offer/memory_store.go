// README: In-memory offer book for the memory backend and tests.
package offer

import (
	"context"
	"sort"
	"sync"

	"ridematch/internal/modules/trip"
	"ridematch/internal/types"
)

// TripStatusReader resolves a trip's current status.
type TripStatusReader interface {
	Find(ctx context.Context, id types.ID) (*trip.Trip, error)
}

type key struct {
	trip, driver types.ID
}

type MemoryStore struct {
	mu     sync.Mutex
	trips  TripStatusReader
	offers map[key]Offer
}

func NewMemoryStore(trips TripStatusReader) *MemoryStore {
	return &MemoryStore{trips: trips, offers: make(map[key]Offer)}
}

func (s *MemoryStore) open(ctx context.Context, tripID types.ID) (bool, error) {
	t, err := s.trips.Find(ctx, tripID)
	if err != nil {
		return false, err
	}
	return t.Status == trip.StatusRequested, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, o *Offer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.open(ctx, o.TripID)
	if err != nil || !ok {
		return false, err
	}
	k := key{o.TripID, o.DriverID}
	stored := *o
	if prev, exists := s.offers[k]; exists {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = o.UpdatedAt
	}
	s.offers[k] = stored
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context, tripID types.ID) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Offer{}
	ok, err := s.open(ctx, tripID)
	if err != nil || !ok {
		return out, err
	}
	for k, o := range s.offers {
		if k.trip == tripID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, tripID, driverID types.ID) (*Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[key{tripID, driverID}]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return &o, nil
}
