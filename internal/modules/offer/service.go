// README: Offer book: drivers propose prices, the passenger picks one.
package offer

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/notify"
	"ridematch/internal/modules/trip"
	"ridematch/internal/types"
	"ridematch/internal/validation"
)

var (
	ErrOfferNotFound = apperr.NotFound("offer not found")
	ErrNotOpen       = apperr.Conflict("trip is no longer open for offers")
	ErrDriverOnly    = apperr.Forbidden("driver role required")
	ErrNotPassenger  = apperr.Forbidden("only the trip's passenger can do this")
	ErrNotApproved   = apperr.Forbidden("driver is not approved")
)

type Trips interface {
	Find(ctx context.Context, id types.ID) (*trip.Trip, error)
	AcceptOffer(ctx context.Context, id, driverID types.ID, fare int64) (*trip.Trip, error)
}

type Drivers interface {
	Get(ctx context.Context, id types.ID) (*location.Driver, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID types.ID, msg notify.Message)
}

type Service struct {
	store    Store
	trips    Trips
	drivers  Drivers
	notifier Notifier
	validate *validation.Validator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, trips Trips, drivers Drivers, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		trips:    trips,
		drivers:  drivers,
		notifier: notifier,
		validate: validation.New(),
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProposeOffer creates or replaces the caller's offer on a requested trip.
func (s *Service) ProposeOffer(ctx context.Context, caller types.Identity, tripID types.ID, cmd ProposeCommand) (*Offer, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, ErrDriverOnly
	}
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	t, err := s.trips.Find(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != trip.StatusRequested {
		return nil, ErrNotOpen
	}

	d, err := s.drivers.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if d.Verification != location.VerificationApproved {
		return nil, ErrNotApproved
	}

	now := s.now()
	o := &Offer{
		TripID:       tripID,
		DriverID:     caller.ID,
		Price:        cmd.Price,
		DriverName:   d.Name,
		Vehicle:      d.Vehicle,
		DriverRating: d.Rating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ok, err := s.store.Upsert(ctx, o)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotOpen
	}
	if stored, err := s.store.Get(ctx, tripID, caller.ID); err == nil {
		o = stored
	}
	s.notifier.NotifyUser(ctx, t.PassengerID, notify.Message{
		Kind:  notify.KindOfferNew,
		Title: "New offer",
		Body:  "A driver offered " + strconv.FormatInt(o.Price, 10),
		Data: map[string]string{
			"trip_id":   string(tripID),
			"driver_id": string(caller.ID),
			"price":     strconv.FormatInt(o.Price, 10),
		},
	})
	return o, nil
}

func (s *Service) ListOffers(ctx context.Context, caller types.Identity, tripID types.ID) ([]Offer, error) {
	if _, err := s.passengerTrip(ctx, caller, tripID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, tripID)
}

// AcceptOffer assigns the offering driver at the offered price. Other offerers are not told.
func (s *Service) AcceptOffer(ctx context.Context, caller types.Identity, tripID, driverID types.ID) (*trip.Trip, error) {
	if _, err := s.passengerTrip(ctx, caller, tripID); err != nil {
		return nil, err
	}
	o, err := s.store.Get(ctx, tripID, driverID)
	if err != nil {
		return nil, err
	}
	t, err := s.trips.AcceptOffer(ctx, tripID, driverID, o.Price)
	if err != nil {
		return nil, err
	}
	s.log.Info("offer accepted", "trip_id", tripID, "driver_id", driverID, "price", o.Price)
	s.notifier.NotifyUser(ctx, driverID, notify.Message{
		Kind:  notify.KindOfferAccepted,
		Title: "Offer accepted",
		Body:  "The passenger accepted your offer",
		Data: map[string]string{
			"trip_id": string(tripID),
			"price":   strconv.FormatInt(o.Price, 10),
		},
	})
	return t, nil
}

func (s *Service) passengerTrip(ctx context.Context, caller types.Identity, tripID types.ID) (*trip.Trip, error) {
	t, err := s.trips.Find(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if caller.ID == "" || t.PassengerID != caller.ID {
		return nil, ErrNotPassenger
	}
	return t, nil
}
