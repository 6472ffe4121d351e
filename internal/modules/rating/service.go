// README: One-time ratings between the parties of a completed trip, and the rated party's average.
package rating

import (
	"context"
	"log/slog"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/trip"
	"ridematch/internal/types"
	"ridematch/internal/validation"
)

var (
	ErrNotCompleted = apperr.Validation("trip not completed")
	ErrAlreadyRated = apperr.Conflict("trip already rated")
	ErrNotParty     = apperr.Forbidden("caller is not a party to this trip")
)

type Trips interface {
	Find(ctx context.Context, id types.ID) (*trip.Trip, error)
	SetRating(ctx context.Context, id types.ID, target trip.RatingTarget, rating int, comment *string) (bool, error)
}

type RateCommand struct {
	Rating  int     `json:"rating" validate:"gte=1,lte=5"`
	Comment *string `json:"comment" validate:"omitempty,max=500"`
}

type Service struct {
	trips    Trips
	averages Averages
	validate *validation.Validator
	log      *slog.Logger
}

func NewService(trips Trips, averages Averages, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		trips:    trips,
		averages: averages,
		validate: validation.New(),
		log:      logger,
	}
}

// Rate records the caller's rating of the other party. Each direction can be written once.
func (s *Service) Rate(ctx context.Context, caller types.Identity, tripID types.ID, cmd RateCommand) (*trip.Trip, error) {
	if err := s.validate.Validate(cmd); err != nil {
		return nil, err
	}
	t, err := s.trips.Find(ctx, tripID)
	if err != nil {
		return nil, err
	}
	role, ok := t.PartyRole(caller.ID)
	if !ok {
		return nil, ErrNotParty
	}
	if t.Status != trip.StatusCompleted {
		return nil, ErrNotCompleted
	}

	target, rated := trip.RateDriver, *t.DriverID
	if role == types.RoleDriver {
		target, rated = trip.RatePassenger, t.PassengerID
	}
	ok, err = s.trips.SetRating(ctx, tripID, target, cmd.Rating, cmd.Comment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRated
	}

	s.refreshAverage(ctx, target, rated)
	return s.trips.Find(ctx, tripID)
}

// refreshAverage recomputes the rated party's average from all their completed trips.
// The rating itself is already stored, so failures here are only logged.
func (s *Service) refreshAverage(ctx context.Context, target trip.RatingTarget, partyID types.ID) {
	avg, n, err := s.averages.Refresh(ctx, target, partyID)
	if err != nil {
		s.log.Warn("rating average refresh failed", "party_id", partyID, "target", target, "err", err)
		return
	}
	s.log.Info("rating average updated", "party_id", partyID, "target", target, "average", avg, "count", n)
}
