// README: Rating tests (write-once directions, averages across trips, concurrent raters).
package rating

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/notify"
	"ridematch/internal/modules/trip"
	"ridematch/internal/testutil"
	"ridematch/internal/types"
)

type nopNotifier struct{}

func (nopNotifier) NotifyUser(context.Context, types.ID, notify.Message) {}

type fixture struct {
	svc        *Service
	trips      *trip.Service
	drivers    *location.MemoryStore
	passengers *MemoryPassengerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	drivers := location.NewMemoryStore()
	drivers.Put(location.Driver{ID: "d1", Verification: location.VerificationApproved})
	approvals := location.NewService(drivers, location.IndexScan, 10, logger)
	trips := trip.NewService(trip.NewMemoryStore(), approvals, nopNotifier{}, logger)
	passengers := NewMemoryPassengerStore()
	return &fixture{
		svc:        NewService(trips, NewMemoryAverages(trips, drivers, passengers), logger),
		trips:      trips,
		drivers:    drivers,
		passengers: passengers,
	}
}

func who(id types.ID, role types.Role) types.Identity {
	return types.Identity{ID: id, Role: role}
}

// completedTrip runs a fresh trip for passenger p and driver d through to completed.
func (f *fixture) completedTrip(t *testing.T, p, d types.ID) *trip.Trip {
	t.Helper()
	ctx := context.Background()
	tr := f.requestedTrip(t, p)
	if _, err := f.trips.Accept(ctx, who(d, types.RoleDriver), tr.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, st := range []trip.Status{trip.StatusInProgress, trip.StatusCompleted} {
		if _, err := f.trips.UpdateStatus(ctx, who(d, types.RoleDriver), tr.ID, trip.StatusCommand{Status: st}); err != nil {
			t.Fatalf("status %s: %v", st, err)
		}
	}
	return tr
}

func (f *fixture) requestedTrip(t *testing.T, p types.ID) *trip.Trip {
	t.Helper()
	tr, err := f.trips.Create(context.Background(), trip.CreateCommand{
		PassengerID: p,
		Pickup:      types.Location{Lat: 1.1656, Lng: -77.0},
		Dropoff:     types.Location{Lat: 1.2, Lng: -77.01},
		Fare:        8000,
		DistanceKm:  3.2,
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return tr
}

func comment(s string) *string { return &s }

func TestRate_BothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.completedTrip(t, "p1", "d1")

	got, err := f.svc.Rate(ctx, who("p1", types.RolePassenger), tr.ID, RateCommand{Rating: 4, Comment: comment("buen viaje")})
	if err != nil {
		t.Fatalf("passenger rates driver: %v", err)
	}
	if got.DriverRating == nil || *got.DriverRating != 4 || got.DriverComment == nil || *got.DriverComment != "buen viaje" {
		t.Fatalf("driver rating not stored: %+v", got)
	}
	if got.PassengerRating != nil {
		t.Fatal("passenger rating should still be empty")
	}

	got, err = f.svc.Rate(ctx, who("d1", types.RoleDriver), tr.ID, RateCommand{Rating: 5})
	if err != nil {
		t.Fatalf("driver rates passenger: %v", err)
	}
	if got.PassengerRating == nil || *got.PassengerRating != 5 {
		t.Fatalf("passenger rating not stored: %+v", got)
	}

	d, _ := f.drivers.Get(ctx, "d1")
	if d.Rating != 4 {
		t.Fatalf("driver average = %v, want 4", d.Rating)
	}
	if r, _ := f.passengers.Rating(ctx, "p1"); r != 5 {
		t.Fatalf("passenger average = %v, want 5", r)
	}
}

func TestRate_SecondRatingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.completedTrip(t, "p1", "d1")

	if _, err := f.svc.Rate(ctx, who("p1", types.RolePassenger), tr.ID, RateCommand{Rating: 2}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Rate(ctx, who("p1", types.RolePassenger), tr.ID, RateCommand{Rating: 5})
	if !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	stored, _ := f.trips.Find(ctx, tr.ID)
	if *stored.DriverRating != 2 {
		t.Fatalf("stored rating changed to %d", *stored.DriverRating)
	}
}

func TestRate_ConcurrentSameDirection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.completedTrip(t, "p1", "d1")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			_, err := f.svc.Rate(ctx, who("p1", types.RolePassenger), tr.ID, RateCommand{Rating: r%5 + 1})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrAlreadyRated) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected one rating to land, got %d", ok)
	}
}

func TestRate_AverageAcrossTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, r := range []int{5, 3, 4} {
		tr := f.completedTrip(t, "p1", "d1")
		if _, err := f.svc.Rate(ctx, who("p1", types.RolePassenger), tr.ID, RateCommand{Rating: r}); err != nil {
			t.Fatal(err)
		}
	}
	d, _ := f.drivers.Get(ctx, "d1")
	if d.Rating != 4 {
		t.Fatalf("driver average = %v, want 4", d.Rating)
	}
}

func TestRate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := f.completedTrip(t, "p1", "d1")
	open := f.requestedTrip(t, "p1")

	tests := []struct {
		name   string
		caller types.Identity
		tripID types.ID
		cmd    RateCommand
		check  func(error) bool
	}{
		{"rating too high", who("p1", types.RolePassenger), done.ID, RateCommand{Rating: 6},
			func(err error) bool { return apperr.KindOf(err) == apperr.KindValidation }},
		{"rating zero", who("p1", types.RolePassenger), done.ID, RateCommand{Rating: 0},
			func(err error) bool { return apperr.KindOf(err) == apperr.KindValidation }},
		{"not completed", who("p1", types.RolePassenger), open.ID, RateCommand{Rating: 5},
			func(err error) bool { return errors.Is(err, ErrNotCompleted) }},
		{"stranger", who("p2", types.RolePassenger), done.ID, RateCommand{Rating: 5},
			func(err error) bool { return errors.Is(err, ErrNotParty) }},
		{"unknown trip", who("p1", types.RolePassenger), "missing", RateCommand{Rating: 5},
			func(err error) bool { return errors.Is(err, trip.ErrNotFound) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Rate(ctx, tt.caller, tt.tripID, tt.cmd)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMemoryPassengerStore_DefaultRating(t *testing.T) {
	s := NewMemoryPassengerStore()
	if r, _ := s.Rating(context.Background(), "nobody"); r != defaultRating {
		t.Fatalf("default rating = %v", r)
	}
}

// Ratings for one driver landing concurrently on different trips must leave the exact mean stored.
func TestRate_ConcurrentTripsKeepExactAverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ratings := []int{1, 2, 3, 4, 5, 5, 4, 3, 2, 1, 5, 5}
	tripIDs := make([]types.ID, len(ratings))
	for i := range ratings {
		tripIDs[i] = f.completedTrip(t, types.ID(fmt.Sprintf("p%d", i)), "d1").ID
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, len(ratings))
	for i, r := range ratings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Rate(ctx, who(types.ID(fmt.Sprintf("p%d", i)), types.RolePassenger), tripIDs[i], RateCommand{Rating: r})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Rate: %v", err)
		}
	}

	sum := 0
	for _, r := range ratings {
		sum += r
	}
	want := float64(sum) / float64(len(ratings))
	d, _ := f.drivers.Get(ctx, "d1")
	if d.Rating != want {
		t.Fatalf("driver average = %v, want %v", d.Rating, want)
	}
}

func TestPGAverages_ConcurrentRefresh(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	drivers := location.NewPGStore(pool)
	did := types.ID("d_" + fmt.Sprint(time.Now().UnixNano()))
	if err := drivers.Ensure(ctx, did); err != nil {
		t.Fatalf("ensure driver: %v", err)
	}
	if err := drivers.SetVerification(ctx, did, location.VerificationApproved); err != nil {
		t.Fatalf("approve driver: %v", err)
	}
	approvals := location.NewService(drivers, location.IndexScan, 10, logger)
	trips := trip.NewService(trip.NewPGStore(pool), approvals, nopNotifier{}, logger)
	f := &fixture{
		svc:   NewService(trips, NewPGAverages(pool), logger),
		trips: trips,
	}

	ratings := []int{5, 1, 4, 2, 3, 3}
	pid := types.ID("p_" + string(did))
	tripIDs := make([]types.ID, len(ratings))
	for i := range ratings {
		tripIDs[i] = f.completedTrip(t, pid, did).ID
	}

	var wg sync.WaitGroup
	for i, r := range ratings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Rate(ctx, who(pid, types.RolePassenger), tripIDs[i], RateCommand{Rating: r}); err != nil {
				t.Errorf("Rate: %v", err)
			}
		}()
	}
	wg.Wait()

	d, err := drivers.Get(ctx, did)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if d.Rating != 3 {
		t.Fatalf("driver average = %v, want 3", d.Rating)
	}

	avg, n, err := NewPGAverages(pool).Refresh(ctx, trip.RatePassenger, pid)
	if err != nil || n != 0 || avg != defaultRating {
		t.Fatalf("unrated passenger refresh = %v, %d, %v", avg, n, err)
	}
}
