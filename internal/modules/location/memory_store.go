// README: In-memory driver availability store.
package location

import (
	"context"
	"sync"
	"time"

	"ridematch/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[types.ID]*Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[types.ID]*Driver)}
}

// Put inserts or replaces a full driver record.
func (s *MemoryStore) Put(d Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Rating == 0 {
		d.Rating = defaultRating
	}
	s.drivers[d.ID] = cloneDriver(&d)
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, ErrDriverNotFound
	}
	return cloneDriver(d), nil
}

func (s *MemoryStore) Ensure(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[id]; !ok {
		s.drivers[id] = &Driver{ID: id, Verification: VerificationPending, Rating: defaultRating}
	}
	return nil
}

func (s *MemoryStore) UpdateLocation(_ context.Context, id types.ID, p types.Point, at time.Time) error {
	return s.update(id, func(d *Driver) {
		pt := p
		ts := at
		d.Location = &pt
		d.LocationUpdatedAt = &ts
	})
}

func (s *MemoryStore) SetAvailability(_ context.Context, id types.ID, available bool) error {
	return s.update(id, func(d *Driver) { d.IsAvailable = available })
}

func (s *MemoryStore) SetVerification(_ context.Context, id types.ID, v Verification) error {
	return s.update(id, func(d *Driver) { d.Verification = v })
}

func (s *MemoryStore) SetRating(_ context.Context, id types.ID, rating float64) error {
	return s.update(id, func(d *Driver) { d.Rating = rating })
}

func (s *MemoryStore) Dispatchable(_ context.Context) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Candidate
	for _, d := range s.drivers {
		if d.Dispatchable() {
			out = append(out, Candidate{ID: d.ID, Point: *d.Location})
		}
	}
	return out, nil
}

func (s *MemoryStore) update(id types.ID, fn func(*Driver)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return ErrDriverNotFound
	}
	fn(d)
	return nil
}

func cloneDriver(d *Driver) *Driver {
	c := *d
	if d.Location != nil {
		p := *d.Location
		c.Location = &p
	}
	if d.LocationUpdatedAt != nil {
		t := *d.LocationUpdatedAt
		c.LocationUpdatedAt = &t
	}
	return &c
}
