// README: Driver availability service and the Nearby lookup used by dispatch.
package location

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ridematch/internal/apperr"
	"ridematch/internal/types"
	"ridematch/internal/validation"
)

const (
	defaultRadiusKm = 10.0
	defaultRating   = 5.0
)

var (
	ErrDriverNotFound      = apperr.NotFound("driver not found")
	ErrDriverOnly          = apperr.Forbidden("driver role required")
	ErrAdminOnly           = apperr.Forbidden("admin role required")
	ErrInvalidVerification = apperr.Validation("invalid verification status")
)

type Service struct {
	store    Store
	index    IndexKind
	radiusKm float64
	validate *validation.Validator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, index IndexKind, radiusKm float64, logger *slog.Logger) *Service {
	if radiusKm <= 0 {
		radiusKm = defaultRadiusKm
	}
	if index == "" {
		index = IndexScan
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		index:    index,
		radiusKm: radiusKm,
		validate: validation.New(),
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Nearby returns dispatchable drivers within radiusKm of pickup, closest first.
func (s *Service) Nearby(ctx context.Context, pickup types.Point, radiusKm float64) ([]types.ID, error) {
	found, err := s.NearbyDrivers(ctx, pickup, radiusKm)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(found))
	for i, d := range found {
		ids[i] = d.DriverID
	}
	return ids, nil
}

func (s *Service) NearbyDrivers(ctx context.Context, pickup types.Point, radiusKm float64) ([]DriverDistance, error) {
	if radiusKm <= 0 {
		radiusKm = s.radiusKm
	}
	cands, err := s.store.Dispatchable(ctx)
	if err != nil {
		return nil, err
	}
	return withinRadius(NewIndex(s.index, cands).Prefilter(pickup, radiusKm), pickup, radiusKm), nil
}

func withinRadius(cands []Candidate, pickup types.Point, radiusKm float64) []DriverDistance {
	out := make([]DriverDistance, 0, len(cands))
	for _, c := range cands {
		if d := DistanceKm(pickup, c.Point); d <= radiusKm {
			out = append(out, DriverDistance{DriverID: c.ID, DistanceKm: d})
		}
	}
	sortByDistance(out, func(d DriverDistance) float64 { return d.DistanceKm })
	return out
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// IsApproved reports whether the driver passed verification. Unknown drivers are not approved.
func (s *Service) IsApproved(ctx context.Context, id types.ID) (bool, error) {
	d, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrDriverNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.Verification == VerificationApproved, nil
}

func (s *Service) UpdateLocation(ctx context.Context, caller types.Identity, p types.Point) (*Driver, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, ErrDriverOnly
	}
	if err := s.validate.Validate(p); err != nil {
		return nil, err
	}
	if err := s.store.Ensure(ctx, caller.ID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLocation(ctx, caller.ID, p, s.now()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, caller.ID)
}

func (s *Service) SetAvailability(ctx context.Context, caller types.Identity, available bool) (*Driver, error) {
	if !caller.Is(types.RoleDriver) {
		return nil, ErrDriverOnly
	}
	if err := s.store.Ensure(ctx, caller.ID); err != nil {
		return nil, err
	}
	if err := s.store.SetAvailability(ctx, caller.ID, available); err != nil {
		return nil, err
	}
	s.log.Info("driver availability changed", "driver_id", caller.ID, "available", available)
	return s.store.Get(ctx, caller.ID)
}

func (s *Service) SetVerification(ctx context.Context, caller types.Identity, id types.ID, v Verification) (*Driver, error) {
	if !caller.Is(types.RoleAdmin) {
		return nil, ErrAdminOnly
	}
	if !v.Valid() {
		return nil, ErrInvalidVerification
	}
	if err := s.store.Ensure(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.SetVerification(ctx, id, v); err != nil {
		return nil, err
	}
	s.log.Info("driver verification changed", "driver_id", id, "status", v, "by", caller.ID)
	return s.store.Get(ctx, id)
}

// SetRating stores the driver's recomputed average.
func (s *Service) SetRating(ctx context.Context, id types.ID, rating float64) error {
	return s.store.SetRating(ctx, id, rating)
}
