// README: Wallet persistence. Ledger writes run inside WithWallet, which holds the wallet row lock.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/types"
)

type Store interface {
	// WithWallet runs fn with the driver's wallet locked. When create is set a missing wallet
	// is opened in currency; otherwise ErrWalletNotFound is returned. fn's writes commit
	// together only if it returns nil.
	WithWallet(ctx context.Context, driverID types.ID, currency string, create bool, fn func(LedgerTx) error) error
	GetWallet(ctx context.Context, driverID types.ID) (*Wallet, error)
	// ListTransactions returns newest first; limit <= 0 returns all.
	ListTransactions(ctx context.Context, walletID types.ID, limit int) ([]Transaction, error)
	ListPayouts(ctx context.Context, driverID types.ID) ([]Payout, error)
	GetPayout(ctx context.Context, id types.ID) (*Payout, error)
	ActiveCommission(ctx context.Context) (*CommissionConfig, bool, error)
}

// LedgerTx is the set of writes allowed while a wallet is locked.
type LedgerTx interface {
	Wallet() Wallet
	FindEntry(ctx context.Context, category Category, reference string) (*Transaction, error)
	// Append inserts t and sets the wallet balance to t.BalanceAfter.
	Append(ctx context.Context, t *Transaction) error
	InsertPayout(ctx context.Context, p *Payout) error
	UpdatePayoutStatus(ctx context.Context, id types.ID, from, to PayoutStatus, reason *string, at time.Time) (bool, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const walletColumns = `id, driver_id, balance, currency, created_at, updated_at`

func (s *PGStore) WithWallet(ctx context.Context, driverID types.ID, currency string, create bool, fn func(LedgerTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if create {
		_, err = tx.Exec(ctx, `
			INSERT INTO wallets (id, driver_id, currency) VALUES ($1, $2, $3)
			ON CONFLICT (driver_id) DO NOTHING`,
			uuid.NewString(), string(driverID), currency,
		)
		if err != nil {
			return fmt.Errorf("open wallet: %w", err)
		}
	}

	w, err := scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE driver_id = $1 FOR UPDATE`, string(driverID),
	))
	if err != nil {
		return err
	}
	if err := fn(&pgLedgerTx{tx: tx, wallet: *w}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetWallet(ctx context.Context, driverID types.ID) (*Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE driver_id = $1`, string(driverID),
	))
}

func (s *PGStore) ListTransactions(ctx context.Context, walletID types.ID, limit int) ([]Transaction, error) {
	q := `
		SELECT id, wallet_id, driver_id, type, category, amount, balance_after, reference, description, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, balance_after DESC`
	args := []any{string(walletID)}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const payoutColumns = `id, driver_id, wallet_id, amount, status, method_type, account_number, account_holder,
	bank_name, period_start, period_end, created_at, processed_at, rejection_reason`

func (s *PGStore) ListPayouts(ctx context.Context, driverID types.ID) ([]Payout, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM driver_payouts
		WHERE driver_id = $1
		ORDER BY created_at DESC`, string(driverID),
	)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	out := []Payout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PGStore) GetPayout(ctx context.Context, id types.ID) (*Payout, error) {
	p, err := scanPayout(s.db.QueryRow(ctx, `
		SELECT `+payoutColumns+` FROM driver_payouts WHERE id = $1`, string(id),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPayoutNotFound
	}
	return p, err
}

func (s *PGStore) ActiveCommission(ctx context.Context) (*CommissionConfig, bool, error) {
	var c CommissionConfig
	err := s.db.QueryRow(ctx, `
		SELECT percentage, min_amount, max_amount
		FROM commission_configs
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1`,
	).Scan(&c.Percentage, &c.MinAmount, &c.MaxAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

type pgLedgerTx struct {
	tx     pgx.Tx
	wallet Wallet
}

func (t *pgLedgerTx) Wallet() Wallet {
	return t.wallet
}

func (t *pgLedgerTx) FindEntry(ctx context.Context, category Category, reference string) (*Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(ctx, `
		SELECT id, wallet_id, driver_id, type, category, amount, balance_after, reference, description, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1 AND category = $2 AND reference = $3
		ORDER BY created_at ASC
		LIMIT 1`, string(t.wallet.ID), string(category), reference,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return tr, err
}

func (t *pgLedgerTx) Append(ctx context.Context, tr *Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, driver_id, type, category, amount, balance_after, reference, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(tr.ID), string(tr.WalletID), string(tr.DriverID), string(tr.Type), string(tr.Category),
		tr.Amount, tr.BalanceAfter, tr.Reference, tr.Description, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`,
		string(t.wallet.ID), tr.BalanceAfter, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	t.wallet.Balance = tr.BalanceAfter
	t.wallet.UpdatedAt = tr.CreatedAt
	return nil
}

func (t *pgLedgerTx) InsertPayout(ctx context.Context, p *Payout) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO driver_payouts (
			id, driver_id, wallet_id, amount, status, method_type, account_number, account_holder,
			bank_name, period_start, period_end, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(p.ID), string(p.DriverID), string(p.WalletID), p.Amount, string(p.Status),
		p.Method.Type, p.Method.AccountNumber, p.Method.AccountHolder, p.Method.BankName,
		p.PeriodStart, p.PeriodEnd, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) UpdatePayoutStatus(ctx context.Context, id types.ID, from, to PayoutStatus, reason *string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE driver_payouts
		SET status = $3, processed_at = $4, rejection_reason = COALESCE($5, rejection_reason)
		WHERE id = $1 AND status = $2 AND wallet_id = $6`,
		string(id), string(from), string(to), at, reason, string(t.wallet.ID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	var id, driverID string
	err := row.Scan(&id, &driverID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	w.ID = types.ID(id)
	w.DriverID = types.ID(driverID)
	return &w, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var id, walletID, driverID, typ, category string
	err := row.Scan(&id, &walletID, &driverID, &typ, &category, &t.Amount, &t.BalanceAfter,
		&t.Reference, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ID = types.ID(id)
	t.WalletID = types.ID(walletID)
	t.DriverID = types.ID(driverID)
	t.Type = TxType(typ)
	t.Category = Category(category)
	return &t, nil
}

func scanPayout(row pgx.Row) (*Payout, error) {
	var p Payout
	var id, driverID, walletID, status string
	var periodStart, periodEnd, processedAt sql.NullTime
	var reason sql.NullString
	err := row.Scan(&id, &driverID, &walletID, &p.Amount, &status, &p.Method.Type,
		&p.Method.AccountNumber, &p.Method.AccountHolder, &p.Method.BankName,
		&periodStart, &periodEnd, &p.CreatedAt, &processedAt, &reason)
	if err != nil {
		return nil, err
	}
	p.ID = types.ID(id)
	p.DriverID = types.ID(driverID)
	p.WalletID = types.ID(walletID)
	p.Status = PayoutStatus(status)
	p.PeriodStart = nullTimePtr(periodStart)
	p.PeriodEnd = nullTimePtr(periodEnd)
	p.ProcessedAt = nullTimePtr(processedAt)
	if reason.Valid {
		r := reason.String
		p.RejectionReason = &r
	}
	return &p, nil
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
