// README: Offer persistence; writes and reads are conditioned on the trip still being requested.
package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/types"
)

type Store interface {
	// Upsert inserts or replaces the (trip, driver) offer. It reports false when the trip
	// is not in requested status, in which case nothing is written.
	Upsert(ctx context.Context, o *Offer) (bool, error)
	// List returns live offers; a trip that left requested status has none.
	List(ctx context.Context, tripID types.ID) ([]Offer, error)
	Get(ctx context.Context, tripID, driverID types.ID) (*Offer, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const offerColumns = `o.trip_id, o.driver_id, o.price, o.driver_name, o.vehicle_make, o.vehicle_model,
	o.vehicle_plate, o.vehicle_color, o.driver_rating, o.created_at, o.updated_at`

func (s *PGStore) Upsert(ctx context.Context, o *Offer) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO trip_offers (
			trip_id, driver_id, price, driver_name, vehicle_make, vehicle_model,
			vehicle_plate, vehicle_color, driver_rating, created_at, updated_at
		)
		SELECT $1::text, $2::text, $3::bigint, $4::text, $5::text, $6::text,
		       $7::text, $8::text, $9::double precision, $10::timestamptz, $10::timestamptz
		FROM trips
		WHERE id = $1 AND status = 'requested'
		ON CONFLICT (trip_id, driver_id) DO UPDATE SET
			price = EXCLUDED.price,
			driver_name = EXCLUDED.driver_name,
			vehicle_make = EXCLUDED.vehicle_make,
			vehicle_model = EXCLUDED.vehicle_model,
			vehicle_plate = EXCLUDED.vehicle_plate,
			vehicle_color = EXCLUDED.vehicle_color,
			driver_rating = EXCLUDED.driver_rating,
			updated_at = EXCLUDED.updated_at`,
		string(o.TripID), string(o.DriverID), o.Price, o.DriverName,
		o.Vehicle.Make, o.Vehicle.Model, o.Vehicle.Plate, o.Vehicle.Color,
		o.DriverRating, o.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert offer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) List(ctx context.Context, tripID types.ID) ([]Offer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+offerColumns+`
		FROM trip_offers o
		JOIN trips t ON t.id = o.trip_id
		WHERE o.trip_id = $1 AND t.status = 'requested'
		ORDER BY o.created_at ASC`, string(tripID),
	)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	out := []Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PGStore) Get(ctx context.Context, tripID, driverID types.ID) (*Offer, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+offerColumns+`
		FROM trip_offers o
		WHERE o.trip_id = $1 AND o.driver_id = $2`, string(tripID), string(driverID),
	)
	o, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var tripID, driverID string
	err := row.Scan(
		&tripID, &driverID, &o.Price, &o.DriverName, &o.Vehicle.Make, &o.Vehicle.Model,
		&o.Vehicle.Plate, &o.Vehicle.Color, &o.DriverRating, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.TripID = types.ID(tripID)
	o.DriverID = types.ID(driverID)
	return &o, nil
}
