// README: Payment processing: cash settles at once, electronic methods settle on the provider callback.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/notify"
	"ridematch/internal/modules/trip"
	"ridematch/internal/modules/wallet"
	"ridematch/internal/types"
	"ridematch/internal/validation"
)

var (
	ErrPaymentNotFound = apperr.NotFound("payment not found")
	ErrAlreadyPaid     = apperr.Conflict("trip already paid")
	ErrNotCompleted    = apperr.Validation("trip is not completed")
	ErrPassengerOnly   = apperr.Forbidden("passenger role required")
	ErrNotPassenger    = apperr.Forbidden("only the trip's passenger can pay it")
	ErrBadSignature    = apperr.New(apperr.KindUnauthenticated, "invalid callback signature")
	ErrBadCallback     = apperr.Validation("malformed callback body")
	ErrNoGateway       = apperr.Upstream("payment provider not configured")
	ErrGateway         = apperr.Upstream("payment provider unavailable")
)

type Trips interface {
	Find(ctx context.Context, id types.ID) (*trip.Trip, error)
}

// Settler credits the driver's wallet; it must be idempotent per trip.
type Settler interface {
	SettleTripPayment(ctx context.Context, tripID types.ID, amount int64) (*wallet.Transaction, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID types.ID, msg notify.Message)
}

type Config struct {
	Currency      string
	ReturnURL     string
	WebhookSecret string
}

type Service struct {
	store    Store
	trips    Trips
	settler  Settler
	gateway  Gateway
	notifier Notifier
	cfg      Config
	validate *validation.Validator
	log      *slog.Logger
	now      func() time.Time
}

// NewService builds the processor. gateway may be nil, in which case only cash is accepted.
func NewService(store Store, trips Trips, settler Settler, gateway Gateway, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "COP"
	}
	return &Service{
		store:    store,
		trips:    trips,
		settler:  settler,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
		validate: validation.New(),
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process charges the fare of a completed trip. Cash payments come back approved and already
// settled; electronic ones come back pending with the provider's checkout URL.
func (s *Service) Process(ctx context.Context, caller types.Identity, cmd ProcessCommand) (*Payment, error) {
	if !caller.Is(types.RolePassenger) {
		return nil, ErrPassengerOnly
	}
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	t, err := s.trips.Find(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.PassengerID != caller.ID {
		return nil, ErrNotPassenger
	}
	if t.Status != trip.StatusCompleted || t.DriverID == nil {
		return nil, ErrNotCompleted
	}
	if cmd.Method.Electronic() && s.gateway == nil {
		return nil, ErrNoGateway
	}

	p := &Payment{
		ID:          types.ID(uuid.NewString()),
		TripID:      t.ID,
		PassengerID: t.PassengerID,
		DriverID:    *t.DriverID,
		Amount:      t.Fare,
		Method:      cmd.Method,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	if cmd.Method.Electronic() {
		return s.checkout(ctx, p)
	}
	return s.settleCash(ctx, p)
}

func (s *Service) settleCash(ctx context.Context, p *Payment) (*Payment, error) {
	if _, err := s.settler.SettleTripPayment(ctx, p.TripID, p.Amount); err != nil {
		s.discard(ctx, p.ID)
		return nil, err
	}
	at := s.now()
	ok, err := s.store.UpdateStatus(ctx, p.ID, StatusPending, StatusApproved, at)
	if err != nil {
		return nil, err
	}
	if ok {
		p.Status = StatusApproved
		p.ApprovedAt = &at
		s.approved(ctx, p)
		return p, nil
	}
	return s.store.Get(ctx, p.ID)
}

func (s *Service) checkout(ctx context.Context, p *Payment) (*Payment, error) {
	co, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		PaymentID:   p.ID,
		Amount:      p.Amount,
		Currency:    s.cfg.Currency,
		Method:      p.Method,
		PassengerID: p.PassengerID,
		ReturnURL:   s.cfg.ReturnURL,
	})
	if err != nil {
		s.log.Error("create checkout failed", "payment_id", p.ID, "trip_id", p.TripID, "error", err)
		s.discard(ctx, p.ID)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if err := s.store.SetCheckout(ctx, p.ID, co.Reference, co.URL); err != nil {
		return nil, err
	}
	p.ProviderReference = &co.Reference
	p.PaymentURL = &co.URL
	s.log.Info("checkout created", "payment_id", p.ID, "trip_id", p.TripID, "method", p.Method, "reference", co.Reference)
	return p, nil
}

// HandleCallback applies a signed provider update. Replays and updates for payments that
// already reached a final status are no-ops.
func (s *Service) HandleCallback(ctx context.Context, signature string, body []byte) (*Payment, error) {
	if !VerifySignature(s.cfg.WebhookSecret, signature, body) {
		return nil, ErrBadSignature
	}
	var ev CallbackEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Reference == "" {
		return nil, ErrBadCallback
	}
	p, err := s.store.GetByReference(ctx, ev.Reference)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return p, nil
	}

	switch providerStatus(ev.Status) {
	case StatusApproved:
		if _, err := s.settler.SettleTripPayment(ctx, p.TripID, p.Amount); err != nil {
			return nil, err
		}
		at := s.now()
		ok, err := s.store.UpdateStatus(ctx, p.ID, StatusPending, StatusApproved, at)
		if err != nil {
			return nil, err
		}
		if ok {
			p.Status = StatusApproved
			p.ApprovedAt = &at
			s.approved(ctx, p)
			return p, nil
		}
	case StatusDeclined:
		ok, err := s.store.UpdateStatus(ctx, p.ID, StatusPending, StatusDeclined, s.now())
		if err != nil {
			return nil, err
		}
		if ok {
			p.Status = StatusDeclined
			s.log.Info("payment declined", "payment_id", p.ID, "trip_id", p.TripID, "provider_status", ev.Status)
			return p, nil
		}
	default:
		return p, nil
	}
	return s.store.Get(ctx, p.ID)
}

func providerStatus(raw string) Status {
	switch strings.ToUpper(raw) {
	case "APPROVED":
		return StatusApproved
	case "DECLINED", "VOIDED", "ERROR":
		return StatusDeclined
	default:
		return StatusPending
	}
}

func (s *Service) approved(ctx context.Context, p *Payment) {
	s.log.Info("payment approved", "payment_id", p.ID, "trip_id", p.TripID, "method", p.Method, "amount", p.Amount)
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyUser(ctx, p.DriverID, notify.Message{
		Kind:  notify.KindPayment,
		Title: "Payment received",
		Body:  fmt.Sprintf("Trip payment of %d approved", p.Amount),
		Data:  map[string]string{"trip_id": string(p.TripID), "payment_id": string(p.ID)},
	})
}

// discard drops a payment row that never reached the provider or the ledger, so the
// passenger can retry.
func (s *Service) discard(ctx context.Context, id types.ID) {
	if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.log.Error("discard payment failed", "payment_id", id, "error", err)
	}
}
