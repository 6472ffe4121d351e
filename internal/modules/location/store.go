// README: Driver availability store backed by Postgres.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/types"
)

type Store interface {
	Get(ctx context.Context, id types.ID) (*Driver, error)
	// Ensure creates a pending, unavailable record for id if none exists.
	Ensure(ctx context.Context, id types.ID) error
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	SetAvailability(ctx context.Context, id types.ID, available bool) error
	SetVerification(ctx context.Context, id types.ID, v Verification) error
	SetRating(ctx context.Context, id types.ID, rating float64) error
	// Dispatchable lists approved, available drivers that have reported a location.
	Dispatchable(ctx context.Context) ([]Candidate, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, vehicle_make, vehicle_model, vehicle_plate, vehicle_color,
			   lat, lng, location_updated_at, is_available, verification_status, rating
		FROM drivers
		WHERE id = $1`, string(id),
	)
	var d Driver
	var driverID, verification string
	var lat, lng *float64
	err := row.Scan(
		&driverID, &d.Name, &d.Vehicle.Make, &d.Vehicle.Model, &d.Vehicle.Plate, &d.Vehicle.Color,
		&lat, &lng, &d.LocationUpdatedAt, &d.IsAvailable, &verification, &d.Rating,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	d.ID = types.ID(driverID)
	d.Verification = Verification(verification)
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}

func (s *PGStore) Ensure(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, string(id),
	)
	return err
}

func (s *PGStore) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	return s.exec(ctx, `
		UPDATE drivers
		SET lat = $2, lng = $3, location_updated_at = $4, updated_at = NOW()
		WHERE id = $1`, string(id), p.Lat, p.Lng, at,
	)
}

func (s *PGStore) SetAvailability(ctx context.Context, id types.ID, available bool) error {
	return s.exec(ctx, `UPDATE drivers SET is_available = $2, updated_at = NOW() WHERE id = $1`, string(id), available)
}

func (s *PGStore) SetVerification(ctx context.Context, id types.ID, v Verification) error {
	return s.exec(ctx, `UPDATE drivers SET verification_status = $2, updated_at = NOW() WHERE id = $1`, string(id), string(v))
}

func (s *PGStore) SetRating(ctx context.Context, id types.ID, rating float64) error {
	return s.exec(ctx, `UPDATE drivers SET rating = $2, updated_at = NOW() WHERE id = $1`, string(id), rating)
}

func (s *PGStore) Dispatchable(ctx context.Context) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, lat, lng
		FROM drivers
		WHERE is_available AND verification_status = 'approved'
		  AND lat IS NOT NULL AND lng IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dispatchable drivers: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var id string
		var c Candidate
		if err := rows.Scan(&id, &c.Point.Lat, &c.Point.Lng); err != nil {
			return nil, err
		}
		c.ID = types.ID(id)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) exec(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDriverNotFound
	}
	return nil
}
