// README: Payment persistence; one open payment per trip is enforced by a unique partial index.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/types"
)

const uniqueViolation = "23505"

type Store interface {
	// Create inserts p; ErrAlreadyPaid when the trip already has a pending or approved payment.
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id types.ID) (*Payment, error)
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	// UpdateStatus moves the payment from -> to and reports whether it was still in from.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, at time.Time) (bool, error)
	SetCheckout(ctx context.Context, id types.ID, reference, url string) error
	Delete(ctx context.Context, id types.ID) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const paymentColumns = `id, trip_id, passenger_id, driver_id, amount, method, status,
	provider_reference, payment_url, created_at, approved_at`

func (s *PGStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(p.ID), string(p.TripID), string(p.PassengerID), string(p.DriverID), p.Amount,
		string(p.Method), string(p.Status), p.ProviderReference, p.PaymentURL, p.CreatedAt, p.ApprovedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyPaid
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Payment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, string(id))
	return scanPayment(row)
}

func (s *PGStore) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_reference = $1`, reference)
	return scanPayment(row)
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = $3,
		    approved_at = CASE WHEN $3 = 'approved' THEN $4::timestamptz ELSE approved_at END
		WHERE id = $1 AND status = $2`,
		string(id), string(from), string(to), at,
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetCheckout(ctx context.Context, id types.ID, reference, url string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments SET provider_reference = $2, payment_url = $3 WHERE id = $1`,
		string(id), reference, url,
	)
	if err != nil {
		return fmt.Errorf("set checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id types.ID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM payments WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var id, tripID, passengerID, driverID, method, status string
	err := row.Scan(&id, &tripID, &passengerID, &driverID, &p.Amount, &method, &status,
		&p.ProviderReference, &p.PaymentURL, &p.CreatedAt, &p.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.ID = types.ID(id)
	p.TripID = types.ID(tripID)
	p.PassengerID = types.ID(passengerID)
	p.DriverID = types.ID(driverID)
	p.Method = Method(method)
	p.Status = Status(status)
	return &p, nil
}
