// README: Concurrency tests against PostgreSQL (run with -race and RIDEMATCH_TEST_DSN).
package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"ridematch/internal/testutil"
	"ridematch/internal/types"
)

func setupPGService(t *testing.T) (*Service, *PGStore) {
	t.Helper()
	store := NewPGStore(testutil.NewPool(t))
	return NewService(store, unapproved{}, &stubNotifier{}, nil), store
}

func TestPG_ConcurrentAcceptSameTrip(t *testing.T) {
	ctx := context.Background()
	svc, store := setupPGService(t)
	tr := mustCreateTrip(t, svc, "p_"+uuid.NewString())

	const attempts = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			<-start
			_, err := svc.Accept(ctx, types.Identity{ID: did, Role: types.RoleDriver}, tr.ID)
			errs <- err
		}(types.ID(fmt.Sprintf("d%d_%s", i, uuid.NewString()[:8])))
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrAlreadyAccepted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	got := assertStatus(t, store, tr.ID, StatusAccepted)
	if got.DriverID == nil {
		t.Fatal("expected driver_id to be set")
	}
}

func TestPG_AcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	svc, store := setupPGService(t)
	pid := "p_" + uuid.NewString()
	tr := mustCreateTrip(t, svc, pid)

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, err := svc.Accept(ctx, driver("d_"+uuid.NewString()[:8]), tr.ID)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		<-start
		_, err := svc.UpdateStatus(ctx, passenger(pid), tr.ID, StatusCommand{Status: StatusCancelled, Reason: "user_cancel"})
		errs <- err
	}()
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrAlreadyAccepted) && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 || success > 2 {
		t.Fatalf("expected 1 or 2 successes, got %d", success)
	}
	got, err := store.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if got.Status != StatusAccepted && got.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}

func TestPG_RatingWrittenOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := setupPGService(t)
	pid := "p_" + uuid.NewString()
	did := "d_" + uuid.NewString()
	tr := mustCreateTrip(t, svc, pid)
	if _, err := svc.Accept(ctx, driver(did), tr.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, st := range []Status{StatusInProgress, StatusCompleted} {
		if _, err := svc.UpdateStatus(ctx, driver(did), tr.ID, StatusCommand{Status: st}); err != nil {
			t.Fatalf("to %s: %v", st, err)
		}
	}

	ok, err := store.SetRating(ctx, tr.ID, RateDriver, 5, nil)
	if err != nil || !ok {
		t.Fatalf("first rating: ok=%v err=%v", ok, err)
	}
	ok, err = store.SetRating(ctx, tr.ID, RateDriver, 1, nil)
	if err != nil || ok {
		t.Fatalf("second rating must not apply: ok=%v err=%v", ok, err)
	}
	avg, n, err := store.RatingAverage(ctx, RateDriver, types.ID(did))
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if n != 1 || avg != 5 {
		t.Fatalf("average = %v over %d, want 5 over 1", avg, n)
	}
}
