// README: Trip store contract and its PostgreSQL implementation; every state-dependent write is a CAS.
package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/types"
)

// Store is the authoritative trip record. Assign, UpdateStatus and SetRating report
// false (with a nil error) when their precondition no longer holds.
type Store interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	Assign(ctx context.Context, id, driverID types.ID, fare *int64, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, reason *string, at time.Time) (bool, error)
	SetRating(ctx context.Context, id types.ID, target RatingTarget, rating int, comment *string) (bool, error)
	RatingAverage(ctx context.Context, target RatingTarget, partyID types.ID) (float64, int, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Trip, error)
	ListByParty(ctx context.Context, partyID types.ID, limit int) ([]Trip, error)
	AppendEvent(ctx context.Context, e *Event) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const tripColumns = `
	id, passenger_id, driver_id,
	pickup_lat, pickup_lng, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_address,
	fare, distance_km, status, status_version,
	requested_at, accepted_at, started_at, completed_at, cancelled_at, cancel_reason,
	driver_rating, driver_comment, passenger_rating, passenger_comment`

func (s *PGStore) Create(ctx context.Context, t *Trip) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (
			id, passenger_id, driver_id,
			pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address,
			fare, distance_km, status, status_version, requested_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		string(t.ID),
		string(t.PassengerID),
		toStringPtr(t.DriverID),
		t.Pickup.Lat, t.Pickup.Lng, t.Pickup.Address,
		t.Dropoff.Lat, t.Dropoff.Lng, t.Dropoff.Address,
		t.Fare,
		t.DistanceKm,
		string(t.Status),
		t.StatusVersion,
		t.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Assign is the single arbitration write: it claims a requested, unassigned trip for driverID
// and optionally fixes the fare in the same statement.
func (s *PGStore) Assign(ctx context.Context, id, driverID types.ID, fare *int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips
		SET driver_id = $2,
			status = 'accepted',
			status_version = status_version + 1,
			accepted_at = $3,
			fare = COALESCE($4, fare)
		WHERE id = $1 AND status = 'requested' AND driver_id IS NULL`,
		string(id),
		string(driverID),
		at,
		fare,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, reason *string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips
		SET status = $1::text,
			status_version = status_version + 1,
			started_at = CASE WHEN $1::text = 'in_progress' THEN $5 ELSE started_at END,
			completed_at = CASE WHEN $1::text = 'completed' THEN $5 ELSE completed_at END,
			cancelled_at = CASE WHEN $1::text = 'cancelled' THEN $5 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $1::text = 'cancelled' THEN $6 ELSE cancel_reason END
		WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(to),
		string(id),
		string(from),
		version,
		at,
		reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetRating(ctx context.Context, id types.ID, target RatingTarget, rating int, comment *string) (bool, error) {
	var q string
	switch target {
	case RateDriver:
		q = `UPDATE trips SET driver_rating = $2, driver_comment = $3
			 WHERE id = $1 AND status = 'completed' AND driver_rating IS NULL`
	case RatePassenger:
		q = `UPDATE trips SET passenger_rating = $2, passenger_comment = $3
			 WHERE id = $1 AND status = 'completed' AND passenger_rating IS NULL`
	default:
		return false, fmt.Errorf("unknown rating target %q", target)
	}
	tag, err := s.db.Exec(ctx, q, string(id), rating, comment)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RatingAverage aggregates every rating the party has received on completed trips.
func (s *PGStore) RatingAverage(ctx context.Context, target RatingTarget, partyID types.ID) (float64, int, error) {
	var q string
	switch target {
	case RateDriver:
		q = `SELECT COALESCE(AVG(driver_rating), 0)::float8, COUNT(driver_rating)
			 FROM trips WHERE driver_id = $1 AND status = 'completed' AND driver_rating IS NOT NULL`
	case RatePassenger:
		q = `SELECT COALESCE(AVG(passenger_rating), 0)::float8, COUNT(passenger_rating)
			 FROM trips WHERE passenger_id = $1 AND status = 'completed' AND passenger_rating IS NOT NULL`
	default:
		return 0, 0, fmt.Errorf("unknown rating target %q", target)
	}
	var avg float64
	var n int
	if err := s.db.QueryRow(ctx, q, string(partyID)).Scan(&avg, &n); err != nil {
		return 0, 0, err
	}
	return avg, n, nil
}

func (s *PGStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE status = $1
		ORDER BY requested_at DESC
		LIMIT $2`, string(status), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func (s *PGStore) ListByParty(ctx context.Context, partyID types.ID, limit int) ([]Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE passenger_id = $1 OR driver_id = $1
		ORDER BY requested_at DESC
		LIMIT $2`, string(partyID), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_events (
			trip_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.TripID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func collectTrips(rows pgx.Rows) ([]Trip, error) {
	defer rows.Close()
	var out []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var id, passengerID, status string
	var driverID, cancelReason, driverComment, passengerComment sql.NullString
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var driverRating, passengerRating sql.NullInt16

	err := row.Scan(
		&id, &passengerID, &driverID,
		&t.Pickup.Lat, &t.Pickup.Lng, &t.Pickup.Address,
		&t.Dropoff.Lat, &t.Dropoff.Lng, &t.Dropoff.Address,
		&t.Fare, &t.DistanceKm, &status, &t.StatusVersion,
		&t.RequestedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt, &cancelReason,
		&driverRating, &driverComment, &passengerRating, &passengerComment,
	)
	if err != nil {
		return nil, err
	}

	t.ID = types.ID(id)
	t.PassengerID = types.ID(passengerID)
	t.Status = Status(status)
	if driverID.Valid {
		d := types.ID(driverID.String)
		t.DriverID = &d
	}
	t.AcceptedAt = toTimePtr(acceptedAt)
	t.StartedAt = toTimePtr(startedAt)
	t.CompletedAt = toTimePtr(completedAt)
	t.CancelledAt = toTimePtr(cancelledAt)
	t.CancelReason = toNullStringPtr(cancelReason)
	t.DriverComment = toNullStringPtr(driverComment)
	t.PassengerComment = toNullStringPtr(passengerComment)
	t.DriverRating = toIntPtr(driverRating)
	t.PassengerRating = toIntPtr(passengerRating)
	return &t, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toNullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toIntPtr(v sql.NullInt16) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int16)
	return &n
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
