// README: Trip service: creation, the acceptance arbiter and the lifecycle state machine.
package trip

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/notify"
	"ridematch/internal/types"
	"ridematch/internal/validation"
)

const defaultListLimit = 50

var (
	ErrNotFound        = apperr.NotFound("trip not found")
	ErrAlreadyAccepted = apperr.NotFound("trip already accepted")
	ErrInvalidState    = apperr.Validation("invalid status transition")
	ErrConflict        = apperr.Conflict("trip state changed concurrently")
	ErrNotParty        = apperr.Forbidden("caller is not a party to this trip")
	ErrDriverOnly      = apperr.Forbidden("driver role required")
	ErrNotApproved     = apperr.Forbidden("driver is not approved")
)

// Notifier is the single-recipient side of the notification fan-out.
type Notifier interface {
	NotifyUser(ctx context.Context, userID types.ID, msg notify.Message)
}

// Approvals answers whether a driver passed verification and may claim trips.
type Approvals interface {
	IsApproved(ctx context.Context, id types.ID) (bool, error)
}

type Service struct {
	store    Store
	drivers  Approvals
	notifier Notifier
	validate *validation.Validator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, drivers Approvals, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		drivers:  drivers,
		notifier: notifier,
		validate: validation.New(),
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateCommand struct {
	PassengerID types.ID `validate:"required"`
	Pickup      types.Location
	Dropoff     types.Location
	Fare        int64   `validate:"gt=0"`
	DistanceKm  float64 `validate:"gte=0"`
}

type StatusCommand struct {
	Status Status `validate:"required"`
	Reason string `validate:"max=500"`
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	now := s.now()
	t := &Trip{
		ID:            types.ID(uuid.NewString()),
		PassengerID:   cmd.PassengerID,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		Fare:          cmd.Fare,
		DistanceKm:    cmd.DistanceKm,
		Status:        StatusRequested,
		StatusVersion: 0,
		RequestedAt:   now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, t.ID, StatusNone, StatusRequested, types.RolePassenger, &cmd.PassengerID)
	return t, nil
}

// Get returns the trip to one of its parties.
func (s *Service) Get(ctx context.Context, caller types.Identity, id types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := t.PartyRole(caller.ID); !ok {
		return nil, ErrNotParty
	}
	return t, nil
}

// Find loads a trip without an authorization check, for collaborating modules.
func (s *Service) Find(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

// ListRequested returns open trips, newest first.
func (s *Service) ListRequested(ctx context.Context, limit int) ([]Trip, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.ListByStatus(ctx, StatusRequested, limit)
}

func (s *Service) History(ctx context.Context, caller types.Identity, limit int) ([]Trip, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return s.store.ListByParty(ctx, caller.ID, limit)
}

// Accept lets a driver claim a requested trip. Exactly one concurrent caller wins;
// the others get ErrAlreadyAccepted and must not retry.
func (s *Service) Accept(ctx context.Context, caller types.Identity, id types.ID) (*Trip, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, ErrDriverOnly
	}
	if err := s.checkApproved(ctx, caller.ID); err != nil {
		return nil, err
	}
	t, err := s.assign(ctx, id, caller.ID, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, t.PassengerID, notify.Message{
		Kind:  notify.KindTripAccepted,
		Title: "Driver on the way",
		Body:  "A driver accepted your trip",
		Data:  map[string]string{"trip_id": string(t.ID), "driver_id": string(caller.ID)},
	})
	return t, nil
}

// AcceptOffer assigns driverID at the offered fare through the same conditional write as Accept.
func (s *Service) AcceptOffer(ctx context.Context, id, driverID types.ID, fare int64) (*Trip, error) {
	if fare <= 0 {
		return nil, apperr.Validation("fare must be > 0")
	}
	if err := s.checkApproved(ctx, driverID); err != nil {
		return nil, err
	}
	return s.assign(ctx, id, driverID, &fare)
}

func (s *Service) checkApproved(ctx context.Context, driverID types.ID) error {
	ok, err := s.drivers.IsApproved(ctx, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotApproved
	}
	return nil
}

func (s *Service) assign(ctx context.Context, id, driverID types.ID, fare *int64) (*Trip, error) {
	ok, err := s.store.Assign(ctx, id, driverID, fare, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.store.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyAccepted
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, id, StatusRequested, StatusAccepted, types.RoleDriver, &driverID)
	return t, nil
}

// UpdateStatus applies a lifecycle transition requested by the trip's passenger or driver.
func (s *Service) UpdateStatus(ctx context.Context, caller types.Identity, id types.ID, cmd StatusCommand) (*Trip, error) {
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role, ok := t.PartyRole(caller.ID)
	if !ok {
		return nil, ErrNotParty
	}
	if cmd.Status == StatusAccepted || !CanTransition(t.Status, cmd.Status) {
		return nil, ErrInvalidState
	}

	var reason *string
	if cmd.Status == StatusCancelled {
		r := cmd.Reason
		if r == "" {
			r = string(role) + "_cancelled"
		}
		reason = &r
	}
	ok, err = s.store.UpdateStatus(ctx, t.ID, t.Status, cmd.Status, t.StatusVersion, reason, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	updated, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, id, t.Status, cmd.Status, role, &caller.ID)
	if other, ok := updated.Counterpart(caller.ID); ok {
		s.notify(ctx, other, notify.Message{
			Kind:  notify.KindTripStatus,
			Title: "Trip update",
			Body:  "Trip is now " + string(cmd.Status),
			Data: map[string]string{
				"trip_id":        string(id),
				"status":         string(cmd.Status),
				"status_version": strconv.Itoa(updated.StatusVersion),
			},
		})
	}
	return updated, nil
}

// SetRating and RatingAverage expose the rating primitives of the store.
func (s *Service) SetRating(ctx context.Context, id types.ID, target RatingTarget, rating int, comment *string) (bool, error) {
	return s.store.SetRating(ctx, id, target, rating, comment)
}

func (s *Service) RatingAverage(ctx context.Context, target RatingTarget, partyID types.ID) (float64, int, error) {
	return s.store.RatingAverage(ctx, target, partyID)
}

func (s *Service) appendEvent(ctx context.Context, id types.ID, from, to Status, actor types.Role, actorID *types.ID) {
	err := s.store.AppendEvent(ctx, &Event{
		TripID:     id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  string(actor),
		ActorID:    actorID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("append trip event", "trip_id", string(id), "to", string(to), "err", err)
	}
}

func (s *Service) notify(ctx context.Context, userID types.ID, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyUser(ctx, userID, msg)
}
