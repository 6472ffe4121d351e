// README: Wallet ledger: trip settlement net of commission, withdrawals and payout resolution.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/trip"
	"ridematch/internal/types"
	"ridematch/internal/validation"
)

const defaultTxLimit = 50

var (
	ErrWalletNotFound      = apperr.NotFound("wallet not found")
	ErrPayoutNotFound      = apperr.NotFound("payout not found")
	ErrBelowMinimum        = apperr.Validation("amount below minimum withdrawal")
	ErrInsufficientBalance = apperr.Validation("insufficient balance")
	ErrNoDriver            = apperr.Validation("trip has no driver")
	ErrInvalidPayoutState  = apperr.Validation("invalid payout transition")
	ErrPayoutConflict      = apperr.Conflict("payout changed concurrently")
	ErrDriverOnly          = apperr.Forbidden("driver role required")
	ErrAdminOnly           = apperr.Forbidden("admin role required")
)

type Trips interface {
	Find(ctx context.Context, id types.ID) (*trip.Trip, error)
}

type Config struct {
	Currency      string
	Commission    CommissionConfig
	MinWithdrawal int64
}

type Service struct {
	store    Store
	trips    Trips
	cfg      Config
	validate *validation.Validator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, trips Trips, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "COP"
	}
	return &Service{
		store:    store,
		trips:    trips,
		cfg:      cfg,
		validate: validation.New(),
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ActiveCommission returns the stored active configuration, or the configured default.
func (s *Service) ActiveCommission(ctx context.Context) (CommissionConfig, error) {
	c, ok, err := s.store.ActiveCommission(ctx)
	if err != nil {
		return CommissionConfig{}, err
	}
	if !ok {
		return s.cfg.Commission, nil
	}
	return *c, nil
}

// SettleTripPayment credits the trip's driver with the fare net of commission.
// It is idempotent per trip: a repeated call returns the original credit.
func (s *Service) SettleTripPayment(ctx context.Context, tripID types.ID, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, apperr.Validation("amount must be > 0")
	}
	t, err := s.trips.Find(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID == nil {
		return nil, ErrNoDriver
	}
	cfg, err := s.ActiveCommission(ctx)
	if err != nil {
		return nil, err
	}
	commission, net := Commission(amount, cfg)

	var out *Transaction
	settled := false
	err = s.store.WithWallet(ctx, *t.DriverID, s.cfg.Currency, true, func(tx LedgerTx) error {
		existing, err := tx.FindEntry(ctx, CategoryTripEarning, string(tripID))
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		w := tx.Wallet()
		entry := &Transaction{
			ID:           types.ID(uuid.NewString()),
			WalletID:     w.ID,
			DriverID:     w.DriverID,
			Type:         TxCredit,
			Category:     CategoryTripEarning,
			Amount:       net,
			BalanceAfter: w.Balance + net,
			Reference:    string(tripID),
			Description:  fmt.Sprintf("Trip earning: fare %d, commission %d", amount, commission),
			CreatedAt:    s.now(),
		}
		if err := tx.Append(ctx, entry); err != nil {
			return err
		}
		out = entry
		settled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settled {
		s.log.Info("trip settled", "trip_id", tripID, "driver_id", *t.DriverID,
			"amount", amount, "commission", commission, "net", net, "balance_after", out.BalanceAfter)
	}
	return out, nil
}

// RequestWithdrawal creates a pending payout and its debit in one ledger transaction.
func (s *Service) RequestWithdrawal(ctx context.Context, caller types.Identity, cmd WithdrawCommand) (*Payout, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, ErrDriverOnly
	}
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	if cmd.Amount < s.cfg.MinWithdrawal {
		return nil, ErrBelowMinimum
	}

	var payout *Payout
	err := s.store.WithWallet(ctx, caller.ID, s.cfg.Currency, false, func(tx LedgerTx) error {
		w := tx.Wallet()
		if cmd.Amount > w.Balance {
			return ErrInsufficientBalance
		}
		now := s.now()
		payout = &Payout{
			ID:          types.ID(uuid.NewString()),
			DriverID:    caller.ID,
			WalletID:    w.ID,
			Amount:      cmd.Amount,
			Status:      PayoutPending,
			Method:      cmd.Method,
			PeriodStart: cmd.PeriodStart,
			PeriodEnd:   cmd.PeriodEnd,
			CreatedAt:   now,
		}
		if err := tx.InsertPayout(ctx, payout); err != nil {
			return err
		}
		return tx.Append(ctx, &Transaction{
			ID:           types.ID(uuid.NewString()),
			WalletID:     w.ID,
			DriverID:     caller.ID,
			Type:         TxDebit,
			Category:     CategoryWithdrawal,
			Amount:       cmd.Amount,
			BalanceAfter: w.Balance - cmd.Amount,
			Reference:    string(payout.ID),
			Description:  "Withdrawal to " + cmd.Method.Type,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("withdrawal requested", "driver_id", caller.ID, "payout_id", payout.ID, "amount", cmd.Amount)
	return payout, nil
}

func (s *Service) GetWallet(ctx context.Context, caller types.Identity, limit int) (*Wallet, []Transaction, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, nil, ErrDriverOnly
	}
	if limit <= 0 || limit > defaultTxLimit {
		limit = defaultTxLimit
	}
	w, err := s.store.GetWallet(ctx, caller.ID)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.store.ListTransactions(ctx, w.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return w, txs, nil
}

func (s *Service) ListPayouts(ctx context.Context, caller types.Identity) ([]Payout, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, ErrDriverOnly
	}
	return s.store.ListPayouts(ctx, caller.ID)
}

// ResolvePayout moves a payout forward. Rejection refunds the amount with an adjustment credit.
func (s *Service) ResolvePayout(ctx context.Context, caller types.Identity, id types.ID, cmd ResolveCommand) (*Payout, error) {
	if !caller.Is(types.RoleAdmin) {
		return nil, ErrAdminOnly
	}
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	p, err := s.store.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canResolve(p.Status, cmd.Status) {
		return nil, ErrInvalidPayoutState
	}

	var reason *string
	if cmd.Status == PayoutRejected {
		r := cmd.Reason
		if r == "" {
			r = "rejected"
		}
		reason = &r
	}
	err = s.store.WithWallet(ctx, p.DriverID, s.cfg.Currency, false, func(tx LedgerTx) error {
		now := s.now()
		ok, err := tx.UpdatePayoutStatus(ctx, id, p.Status, cmd.Status, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPayoutConflict
		}
		if cmd.Status != PayoutRejected {
			return nil
		}
		w := tx.Wallet()
		return tx.Append(ctx, &Transaction{
			ID:           types.ID(uuid.NewString()),
			WalletID:     w.ID,
			DriverID:     w.DriverID,
			Type:         TxCredit,
			Category:     CategoryAdjustment,
			Amount:       p.Amount,
			BalanceAfter: w.Balance + p.Amount,
			Reference:    string(id),
			Description:  "Refund of rejected payout: " + *reason,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("payout resolved", "payout_id", id, "from", p.Status, "to", cmd.Status, "by", caller.ID)
	return s.store.GetPayout(ctx, id)
}
