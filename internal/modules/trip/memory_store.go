// README: In-memory trip store; one mutex serializes every conditional write.
package trip

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ridematch/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	trips  map[types.ID]*Trip
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[types.ID]*Trip)}
}

func (s *MemoryStore) Create(_ context.Context, t *Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trips[t.ID]; ok {
		return fmt.Errorf("trip %s already exists", t.ID)
	}
	s.trips[t.ID] = cloneTrip(t)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrip(t), nil
}

func (s *MemoryStore) Assign(_ context.Context, id, driverID types.ID, fare *int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok || t.Status != StatusRequested || t.DriverID != nil {
		return false, nil
	}
	d := driverID
	t.DriverID = &d
	t.Status = StatusAccepted
	t.StatusVersion++
	t.AcceptedAt = &at
	if fare != nil {
		t.Fare = *fare
	}
	return true, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, reason *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok || t.Status != from || t.StatusVersion != version {
		return false, nil
	}
	t.Status = to
	t.StatusVersion++
	switch to {
	case StatusInProgress:
		t.StartedAt = &at
	case StatusCompleted:
		t.CompletedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
		t.CancelReason = cloneString(reason)
	}
	return true, nil
}

func (s *MemoryStore) SetRating(_ context.Context, id types.ID, target RatingTarget, rating int, comment *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok || t.Status != StatusCompleted {
		return false, nil
	}
	r := rating
	switch target {
	case RateDriver:
		if t.DriverRating != nil {
			return false, nil
		}
		t.DriverRating = &r
		t.DriverComment = cloneString(comment)
	case RatePassenger:
		if t.PassengerRating != nil {
			return false, nil
		}
		t.PassengerRating = &r
		t.PassengerComment = cloneString(comment)
	default:
		return false, fmt.Errorf("unknown rating target %q", target)
	}
	return true, nil
}

func (s *MemoryStore) RatingAverage(_ context.Context, target RatingTarget, partyID types.ID) (float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, n := 0, 0
	for _, t := range s.trips {
		if t.Status != StatusCompleted {
			continue
		}
		switch target {
		case RateDriver:
			if t.DriverID != nil && *t.DriverID == partyID && t.DriverRating != nil {
				sum += *t.DriverRating
				n++
			}
		case RatePassenger:
			if t.PassengerID == partyID && t.PassengerRating != nil {
				sum += *t.PassengerRating
				n++
			}
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(n), n, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Trip, error) {
	return s.list(limit, func(t *Trip) bool { return t.Status == status }), nil
}

func (s *MemoryStore) ListByParty(_ context.Context, partyID types.ID, limit int) ([]Trip, error) {
	return s.list(limit, func(t *Trip) bool {
		_, ok := t.PartyRole(partyID)
		return ok
	}), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := *e
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

// Events returns the audit trail recorded for a trip, oldest first.
func (s *MemoryStore) Events(tripID types.ID) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.TripID == tripID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) list(limit int, keep func(*Trip) bool) []Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trip, 0)
	for _, t := range s.trips {
		if keep(t) {
			out = append(out, *cloneTrip(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneTrip(t *Trip) *Trip {
	c := *t
	if t.DriverID != nil {
		d := *t.DriverID
		c.DriverID = &d
	}
	c.AcceptedAt = cloneTime(t.AcceptedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.CancelledAt = cloneTime(t.CancelledAt)
	c.CancelReason = cloneString(t.CancelReason)
	c.DriverComment = cloneString(t.DriverComment)
	c.PassengerComment = cloneString(t.PassengerComment)
	if t.DriverRating != nil {
		r := *t.DriverRating
		c.DriverRating = &r
	}
	if t.PassengerRating != nil {
		r := *t.PassengerRating
		c.PassengerRating = &r
	}
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
