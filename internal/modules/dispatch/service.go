// README: Dispatch engine: create the trip, find nearby drivers, fan the request out.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/notify"
	"ridematch/internal/modules/trip"
	"ridematch/internal/types"
	"ridematch/internal/validation"
)

var (
	ErrPassengerOnly = apperr.Forbidden("passenger role required")
	ErrDriverOnly    = apperr.Forbidden("driver role required")
	ErrNoDispatch    = apperr.NotFound("trip has no dispatch record")
)

type Trips interface {
	Create(ctx context.Context, cmd trip.CreateCommand) (*trip.Trip, error)
	Get(ctx context.Context, caller types.Identity, id types.ID) (*trip.Trip, error)
	ListRequested(ctx context.Context, limit int) ([]trip.Trip, error)
}

type Drivers interface {
	Nearby(ctx context.Context, pickup types.Point, radiusKm float64) ([]types.ID, error)
	IsApproved(ctx context.Context, id types.ID) (bool, error)
}

type DriverNotifier interface {
	NotifyDrivers(ctx context.Context, driverIDs []types.ID, msg notify.Message) int
}

// RouteProvider is optional; without it distance falls back to the great-circle estimate.
type RouteProvider interface {
	DistanceKm(ctx context.Context, origin, destination types.Point) (float64, error)
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

type Service struct {
	trips    Trips
	drivers  Drivers
	notifier DriverNotifier
	store    Store
	routes   RouteProvider
	radiusKm float64
	validate *validation.Validator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(trips Trips, drivers Drivers, notifier DriverNotifier, store Store, routes RouteProvider, radiusKm float64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if radiusKm <= 0 {
		radiusKm = 10
	}
	return &Service{
		trips:    trips,
		drivers:  drivers,
		notifier: notifier,
		store:    store,
		routes:   routes,
		radiusKm: radiusKm,
		validate: validation.New(),
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateTrip writes a requested trip and notifies nearby drivers. Lookup and notification
// failures are logged; once the trip is written the call succeeds.
func (s *Service) CreateTrip(ctx context.Context, caller types.Identity, cmd CreateTripCommand) (*Result, error) {
	if !caller.Is(types.RolePassenger) {
		return nil, ErrPassengerOnly
	}
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	s.enrich(ctx, &cmd)

	t, err := s.trips.Create(ctx, trip.CreateCommand{
		PassengerID: caller.ID,
		Pickup:      cmd.Pickup,
		Dropoff:     cmd.Dropoff,
		Fare:        cmd.Fare,
		DistanceKm:  cmd.DistanceKm,
	})
	if err != nil {
		return nil, err
	}

	drivers, err := s.drivers.Nearby(ctx, t.Pickup.Point(), s.radiusKm)
	if err != nil {
		s.log.Warn("nearby lookup failed", "trip_id", t.ID, "err", err)
		return &Result{Trip: t}, nil
	}
	if err := s.store.RecordDispatch(ctx, t.ID, drivers, s.now()); err != nil {
		s.log.Warn("record dispatch failed", "trip_id", t.ID, "err", err)
	}

	notified := s.notifier.NotifyDrivers(ctx, drivers, notify.Message{
		Kind:  notify.KindTripNew,
		Title: "New trip request",
		Body:  fmt.Sprintf("Pickup at %s", addressOr(t.Pickup)),
		Data: map[string]string{
			"trip_id": string(t.ID),
			"fare":    fmt.Sprintf("%d", t.Fare),
		},
	})
	s.log.Info("trip dispatched", "trip_id", t.ID, "candidates", len(drivers), "notified", notified)
	return &Result{Trip: t, DriversNotified: notified}, nil
}

// enrich fills distance and addresses from the route provider, best-effort.
func (s *Service) enrich(ctx context.Context, cmd *CreateTripCommand) {
	if cmd.DistanceKm == 0 {
		cmd.DistanceKm = location.DistanceKm(cmd.Pickup.Point(), cmd.Dropoff.Point())
		if s.routes != nil {
			if km, err := s.routes.DistanceKm(ctx, cmd.Pickup.Point(), cmd.Dropoff.Point()); err == nil {
				cmd.DistanceKm = km
			} else {
				s.log.Warn("route distance failed, using great-circle", "err", err)
			}
		}
	}
	if s.routes == nil {
		return
	}
	for _, loc := range []*types.Location{&cmd.Pickup, &cmd.Dropoff} {
		if loc.Address != "" {
			continue
		}
		if addr, err := s.routes.ReverseGeocode(ctx, loc.Point()); err == nil {
			loc.Address = addr
		}
	}
}

// ListActive returns open trips to approved drivers; others see an empty list.
func (s *Service) ListActive(ctx context.Context, caller types.Identity) ([]trip.Trip, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, ErrDriverOnly
	}
	ok, err := s.drivers.IsApproved(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []trip.Trip{}, nil
	}
	return s.trips.ListRequested(ctx, 0)
}

// DispatchInfo returns the dispatch record of a trip to one of its parties.
func (s *Service) DispatchInfo(ctx context.Context, caller types.Identity, tripID types.ID) (*Record, error) {
	if _, err := s.trips.Get(ctx, caller, tripID); err != nil {
		return nil, err
	}
	return s.store.GetDispatch(ctx, tripID)
}

func addressOr(l types.Location) string {
	if l.Address != "" {
		return l.Address
	}
	return fmt.Sprintf("%.5f,%.5f", l.Lat, l.Lng)
}
