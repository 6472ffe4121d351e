// README: Offer book tests (propose, replace, accept at offered price, races with direct accept).
package offer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"ridematch/internal/apperr"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/notify"
	"ridematch/internal/modules/trip"
	"ridematch/internal/testutil"
	"ridematch/internal/types"
)

type stubNotifier struct {
	mu   sync.Mutex
	sent map[types.ID][]notify.Message
}

func (n *stubNotifier) NotifyUser(_ context.Context, userID types.ID, msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[types.ID][]notify.Message{}
	}
	n.sent[userID] = append(n.sent[userID], msg)
}

func (n *stubNotifier) count(id types.ID, kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent[id] {
		if m.Kind == kind {
			c++
		}
	}
	return c
}

func driver(id string) types.Identity { return types.Identity{ID: types.ID(id), Role: types.RoleDriver} }
func passenger(id string) types.Identity { return types.Identity{ID: types.ID(id), Role: types.RolePassenger} }

type fixture struct {
	svc      *Service
	trips    *trip.Service
	drivers  *location.MemoryStore
	notifier *stubNotifier
}

func newFixture(t *testing.T, store func(*trip.Service) Store, tripStore trip.Store) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := &stubNotifier{}
	drivers := location.NewMemoryStore()
	drivers.Put(location.Driver{
		ID:           "d1",
		Name:         "Camila",
		Vehicle:      location.Vehicle{Make: "Renault", Model: "Logan", Plate: "ABC123", Color: "gris"},
		Verification: location.VerificationApproved,
		Rating:       4.8,
	})
	for _, id := range []types.ID{"d2", "d3", "d9"} {
		drivers.Put(location.Driver{ID: id, Verification: location.VerificationApproved})
	}
	drivers.Put(location.Driver{ID: "d_pending", Verification: location.VerificationPending})
	approvals := location.NewService(drivers, location.IndexScan, 10, logger)
	trips := trip.NewService(tripStore, approvals, notifier, logger)
	return &fixture{
		svc:      NewService(store(trips), trips, drivers, notifier, logger),
		trips:    trips,
		drivers:  drivers,
		notifier: notifier,
	}
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, func(ts *trip.Service) Store { return NewMemoryStore(ts) }, trip.NewMemoryStore())
}

func (f *fixture) createTrip(t *testing.T, pid string) *trip.Trip {
	t.Helper()
	tr, err := f.trips.Create(context.Background(), trip.CreateCommand{
		PassengerID: types.ID(pid),
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

func TestProposeOffer_SnapshotAndReplace(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	tr := f.createTrip(t, "p1")

	o, err := f.svc.ProposeOffer(ctx, driver("d1"), tr.ID, ProposeCommand{Price: 9000})
	if err != nil {
		t.Fatalf("ProposeOffer: %v", err)
	}
	if o.DriverName != "Camila" || o.Vehicle.Plate != "ABC123" || o.DriverRating != 4.8 {
		t.Fatalf("driver snapshot not taken: %+v", o)
	}
	if o.CreatedAt.IsZero() {
		t.Fatal("returned offer has no created_at")
	}
	firstCreated := o.CreatedAt
	if _, err := f.svc.ProposeOffer(ctx, driver("d2"), tr.ID, ProposeCommand{Price: 8500}); err != nil {
		t.Fatalf("ProposeOffer d2: %v", err)
	}
	again, err := f.svc.ProposeOffer(ctx, driver("d1"), tr.ID, ProposeCommand{Price: 8200})
	if err != nil {
		t.Fatalf("re-offer: %v", err)
	}
	if !again.CreatedAt.Equal(firstCreated) || again.Price != 8200 {
		t.Fatalf("re-offer should keep created_at %v, got %+v", firstCreated, again)
	}

	offers, err := f.svc.ListOffers(ctx, passenger("p1"), tr.ID)
	if err != nil {
		t.Fatalf("ListOffers: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}
	for _, o := range offers {
		if o.DriverID == "d1" && o.Price != 8200 {
			t.Fatalf("re-offer did not replace price: %d", o.Price)
		}
		if o.DriverID == "d2" && o.DriverRating != 5.0 {
			t.Fatalf("unrated driver should carry the cold-start rating, got %v", o.DriverRating)
		}
		if o.CreatedAt.IsZero() || o.UpdatedAt.Before(o.CreatedAt) {
			t.Fatalf("offer timestamps not set: %+v", o)
		}
	}
	if got := f.notifier.count("p1", notify.KindOfferNew); got != 3 {
		t.Fatalf("passenger offer notifications = %d, want 3", got)
	}
}

func TestProposeOffer_Rejections(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	tr := f.createTrip(t, "p1")

	if _, err := f.svc.ProposeOffer(ctx, passenger("p1"), tr.ID, ProposeCommand{Price: 100}); !errors.Is(err, ErrDriverOnly) {
		t.Fatalf("expected ErrDriverOnly, got %v", err)
	}
	if _, err := f.svc.ProposeOffer(ctx, driver("d1"), tr.ID, ProposeCommand{Price: 0}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.ProposeOffer(ctx, driver("d1"), "missing", ProposeCommand{Price: 100}); !errors.Is(err, trip.ErrNotFound) {
		t.Fatalf("expected trip.ErrNotFound, got %v", err)
	}
	if _, err := f.svc.ListOffers(ctx, passenger("p2"), tr.ID); !errors.Is(err, ErrNotPassenger) {
		t.Fatalf("expected ErrNotPassenger, got %v", err)
	}
	if _, err := f.svc.AcceptOffer(ctx, passenger("p1"), tr.ID, "nobody"); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound, got %v", err)
	}
}

func TestProposeOffer_OnlyApprovedDrivers(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	tr := f.createTrip(t, "p1")

	if _, err := f.svc.ProposeOffer(ctx, driver("d_pending"), tr.ID, ProposeCommand{Price: 7000}); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("pending driver: expected ErrNotApproved, got %v", err)
	}
	if _, err := f.svc.ProposeOffer(ctx, driver("never-registered"), tr.ID, ProposeCommand{Price: 7000}); !errors.Is(err, location.ErrDriverNotFound) {
		t.Fatalf("unregistered driver: expected ErrDriverNotFound, got %v", err)
	}
	offers, err := f.svc.ListOffers(ctx, passenger("p1"), tr.ID)
	if err != nil || len(offers) != 0 {
		t.Fatalf("refused offers must not be listed: %d, %v", len(offers), err)
	}
	if _, err := f.svc.AcceptOffer(ctx, passenger("p1"), tr.ID, "never-registered"); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound, got %v", err)
	}
	if f.notifier.count("p1", notify.KindOfferNew) != 0 {
		t.Fatal("passenger notified about a refused offer")
	}

	f.drivers.Put(location.Driver{ID: "d_pending", Verification: location.VerificationApproved})
	if _, err := f.svc.ProposeOffer(ctx, driver("d_pending"), tr.ID, ProposeCommand{Price: 7000}); err != nil {
		t.Fatalf("approved driver: %v", err)
	}
}

func TestAcceptOffer_AssignsAtOfferedPrice(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	tr := f.createTrip(t, "p1")
	for _, o := range []struct {
		id    string
		price int64
	}{{"d1", 9000}, {"d2", 8500}} {
		if _, err := f.svc.ProposeOffer(ctx, driver(o.id), tr.ID, ProposeCommand{Price: o.price}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := f.svc.AcceptOffer(ctx, passenger("p1"), tr.ID, "d2")
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if got.Status != trip.StatusAccepted || got.DriverID == nil || *got.DriverID != "d2" || got.Fare != 8500 {
		t.Fatalf("unexpected trip: %+v", got)
	}
	if f.notifier.count("d2", notify.KindOfferAccepted) != 1 || f.notifier.count("d1", notify.KindOfferAccepted) != 0 {
		t.Fatal("only the chosen driver should be notified")
	}

	offers, err := f.svc.ListOffers(ctx, passenger("p1"), tr.ID)
	if err != nil || len(offers) != 0 {
		t.Fatalf("offers should be gone once accepted: %d, %v", len(offers), err)
	}
	if _, err := f.svc.ProposeOffer(ctx, driver("d3"), tr.ID, ProposeCommand{Price: 7000}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if _, err := f.svc.AcceptOffer(ctx, passenger("p1"), tr.ID, "d1"); !errors.Is(err, trip.ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
}

func TestAcceptOffer_RacesDirectAccept(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	tr := f.createTrip(t, "p1")
	if _, err := f.svc.ProposeOffer(ctx, driver("d1"), tr.ID, ProposeCommand{Price: 9000}); err != nil {
		t.Fatal(err)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, errs[0] = f.svc.AcceptOffer(ctx, passenger("p1"), tr.ID, "d1")
	}()
	go func() {
		defer wg.Done()
		<-start
		_, errs[1] = f.trips.Accept(ctx, driver("d9"), tr.ID)
	}()
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, trip.ErrAlreadyAccepted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestPG_UpsertConditionalOnRequested(t *testing.T) {
	pool := testutil.NewPool(t)
	f := newFixture(t, func(*trip.Service) Store { return NewPGStore(pool) }, trip.NewPGStore(pool))
	ctx := context.Background()
	pid := "p_" + uuid.NewString()
	tr := f.createTrip(t, pid)
	d1 := "d1"
	d2 := "d_" + uuid.NewString()[:8]
	f.drivers.Put(location.Driver{ID: types.ID(d2), Verification: location.VerificationApproved})

	if _, err := f.svc.ProposeOffer(ctx, driver(d1), tr.ID, ProposeCommand{Price: 9000}); err != nil {
		t.Fatalf("ProposeOffer: %v", err)
	}
	if _, err := f.svc.ProposeOffer(ctx, driver(d1), tr.ID, ProposeCommand{Price: 8700}); err != nil {
		t.Fatalf("re-offer: %v", err)
	}
	if _, err := f.svc.ProposeOffer(ctx, driver(d2), tr.ID, ProposeCommand{Price: 9900}); err != nil {
		t.Fatalf("ProposeOffer d2: %v", err)
	}
	offers, err := f.svc.ListOffers(ctx, passenger(pid), tr.ID)
	if err != nil || len(offers) != 2 {
		t.Fatalf("ListOffers = %d, %v", len(offers), err)
	}

	got, err := f.svc.AcceptOffer(ctx, passenger(pid), tr.ID, types.ID(d1))
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if got.Fare != 8700 {
		t.Fatalf("fare = %d, want 8700", got.Fare)
	}

	store := NewPGStore(pool)
	ok, err := store.Upsert(ctx, &Offer{TripID: tr.ID, DriverID: types.ID(d2), Price: 100, UpdatedAt: got.RequestedAt})
	if err != nil || ok {
		t.Fatalf("upsert on accepted trip = %v, %v", ok, err)
	}
	offers, err = store.List(ctx, tr.ID)
	if err != nil || len(offers) != 0 {
		t.Fatalf("List after accept = %d, %v", len(offers), err)
	}
}
