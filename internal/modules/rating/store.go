// README: Rating averages; each refresh aggregates and writes under one per-party lock.
package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/modules/location"
	"ridematch/internal/modules/trip"
	"ridematch/internal/types"
)

const defaultRating = 5.0

// Averages recomputes a party's average over their completed trips and stores it.
// Refreshes for the same party are serialized, so the last write always reflects every committed rating.
type Averages interface {
	Refresh(ctx context.Context, target trip.RatingTarget, partyID types.ID) (avg float64, n int, err error)
}

type PGAverages struct {
	db *pgxpool.Pool
}

func NewPGAverages(db *pgxpool.Pool) *PGAverages {
	return &PGAverages{db: db}
}

const refreshDriverSQL = `
	UPDATE drivers d
	SET rating = COALESCE(agg.avg, 5.0), updated_at = NOW()
	FROM (
		SELECT AVG(driver_rating)::float8 AS avg, COUNT(driver_rating) AS n
		FROM trips
		WHERE driver_id = $1 AND status = 'completed' AND driver_rating IS NOT NULL
	) agg
	WHERE d.id = $1
	RETURNING d.rating, agg.n`

const refreshPassengerSQL = `
	WITH agg AS (
		SELECT AVG(passenger_rating)::float8 AS avg, COUNT(passenger_rating) AS n
		FROM trips
		WHERE passenger_id = $1 AND status = 'completed' AND passenger_rating IS NOT NULL
	)
	INSERT INTO passengers (id, rating, updated_at)
	SELECT $1, COALESCE(agg.avg, 5.0), NOW() FROM agg
	ON CONFLICT (id) DO UPDATE SET rating = EXCLUDED.rating, updated_at = NOW()
	RETURNING rating, (SELECT n FROM agg)`

func (s *PGAverages) Refresh(ctx context.Context, target trip.RatingTarget, partyID types.ID) (float64, int, error) {
	var q string
	switch target {
	case trip.RateDriver:
		q = refreshDriverSQL
	case trip.RatePassenger:
		q = refreshPassengerSQL
	default:
		return 0, 0, fmt.Errorf("unknown rating target %q", target)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	// the aggregate below must run after any concurrent refresh for this party has committed
	lockKey := "rating:" + string(target) + ":" + string(partyID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return 0, 0, err
	}
	var avg float64
	var n int
	err = tx.QueryRow(ctx, q, string(partyID)).Scan(&avg, &n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, location.ErrDriverNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return avg, n, nil
}

// TripAverages aggregates ratings from the trip store.
type TripAverages interface {
	RatingAverage(ctx context.Context, target trip.RatingTarget, partyID types.ID) (float64, int, error)
}

// DriverRatings persists a driver's average on the availability record.
type DriverRatings interface {
	SetRating(ctx context.Context, id types.ID, rating float64) error
}

// MemoryAverages serves the in-memory backend; one mutex covers aggregate plus write.
type MemoryAverages struct {
	mu         sync.Mutex
	trips      TripAverages
	drivers    DriverRatings
	passengers PassengerStore
}

func NewMemoryAverages(trips TripAverages, drivers DriverRatings, passengers PassengerStore) *MemoryAverages {
	return &MemoryAverages{trips: trips, drivers: drivers, passengers: passengers}
}

func (m *MemoryAverages) Refresh(ctx context.Context, target trip.RatingTarget, partyID types.ID) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, n, err := m.trips.RatingAverage(ctx, target, partyID)
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		avg = defaultRating
	}
	switch target {
	case trip.RateDriver:
		err = m.drivers.SetRating(ctx, partyID, avg)
	case trip.RatePassenger:
		err = m.passengers.SetRating(ctx, partyID, avg)
	default:
		err = fmt.Errorf("unknown rating target %q", target)
	}
	if err != nil {
		return 0, 0, err
	}
	return avg, n, nil
}

// PassengerStore keeps the cached average rating of each passenger.
type PassengerStore interface {
	SetRating(ctx context.Context, id types.ID, rating float64) error
	// Rating returns the default rating for passengers never rated.
	Rating(ctx context.Context, id types.ID) (float64, error)
}

type MemoryPassengerStore struct {
	mu      sync.Mutex
	ratings map[types.ID]float64
}

func NewMemoryPassengerStore() *MemoryPassengerStore {
	return &MemoryPassengerStore{ratings: make(map[types.ID]float64)}
}

func (s *MemoryPassengerStore) SetRating(_ context.Context, id types.ID, rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[id] = rating
	return nil
}

func (s *MemoryPassengerStore) Rating(_ context.Context, id types.ID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.ratings[id]; ok {
		return r, nil
	}
	return defaultRating, nil
}
