// README: End-to-end HTTP tests over in-memory stores.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httpapi "ridematch/internal/http"
	"ridematch/internal/http/handlers"
	"ridematch/internal/infra"
	"ridematch/internal/modules/dispatch"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/notify"
	"ridematch/internal/modules/offer"
	"ridematch/internal/modules/payment"
	"ridematch/internal/modules/rating"
	"ridematch/internal/modules/trip"
	"ridematch/internal/modules/wallet"
	"ridematch/internal/types"
)

const webhookSecret = "whsec_router"

// tokenVerifier accepts tokens of the form "<role>:<uid>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, token string) (*infra.FirebaseToken, error) {
	role, uid, ok := strings.Cut(token, ":")
	if !ok || uid == "" {
		return nil, errors.New("malformed token")
	}
	return &infra.FirebaseToken{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}

type api struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fanout := notify.NewFanout(notify.NewLogSink(logger), nil, logger, time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = fanout.Drain(ctx)
	})

	drivers := location.NewMemoryStore()
	pasto := types.Point{Lat: 1.2136, Lng: -77.2811}
	drivers.Put(location.Driver{ID: "d1", Name: "Andrés", Location: &pasto, IsAvailable: true, Verification: location.VerificationApproved})
	drivers.Put(location.Driver{ID: "d2", Location: &pasto, IsAvailable: true, Verification: location.VerificationApproved})
	drivers.Put(location.Driver{ID: "d3", Location: &pasto, IsAvailable: true, Verification: location.VerificationPending})

	locationSvc := location.NewService(drivers, location.IndexScan, 10, logger)
	trips := trip.NewService(trip.NewMemoryStore(), locationSvc, fanout, logger)
	dispatchSvc := dispatch.NewService(trips, locationSvc, fanout, dispatch.NewMemoryStore(), nil, 10, logger)
	offers := offer.NewService(offer.NewMemoryStore(trips), trips, locationSvc, fanout, logger)
	ratings := rating.NewService(trips, rating.NewMemoryAverages(trips, locationSvc, rating.NewMemoryPassengerStore()), logger)
	wallets := wallet.NewService(wallet.NewMemoryStore(), trips, wallet.Config{
		Currency:      "COP",
		Commission:    wallet.CommissionConfig{Percentage: 15, MinAmount: 500, MaxAmount: 5000},
		MinWithdrawal: 20000,
	}, logger)
	payments := payment.NewService(payment.NewMemoryStore(), trips, wallets, nil, fanout,
		payment.Config{Currency: "COP", WebhookSecret: webhookSecret}, logger)

	router := httpapi.NewRouter(httpapi.Deps{
		Dispatch: dispatchSvc,
		Trips:    trips,
		Rating:   ratings,
		Offers:   offers,
		Location: locationSvc,
		Payments: payments,
		Wallets:  wallets,
		Verifier: tokenVerifier{},
		Logger:   logger,
	})
	return &api{t: t, router: router}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) expect(w *httptest.ResponseRecorder, status int) {
	a.t.Helper()
	if w.Code != status {
		a.t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type tripBody struct {
	Trip trip.Trip `json:"trip"`
}

func (a *api) createTrip(fare int64) trip.Trip {
	a.t.Helper()
	w := a.do(http.MethodPost, "/trips", "passenger:p1", map[string]any{
		"pickup":  map[string]any{"lat": 1.2140, "lng": -77.2800, "address": "Parque Nariño"},
		"dropoff": map[string]any{"lat": 1.2300, "lng": -77.2900, "address": "Unicentro"},
		"fare":    fare,
	})
	a.expect(w, http.StatusCreated)
	res := decode[dispatch.Result](a.t, w)
	if res.Trip == nil {
		a.t.Fatal("missing trip in response")
	}
	return *res.Trip
}

func TestHealthAndAuth(t *testing.T) {
	a := newAPI(t)
	a.expect(a.do(http.MethodGet, "/health", "", nil), http.StatusOK)
	a.expect(a.do(http.MethodGet, "/trips/history", "", nil), http.StatusUnauthorized)
	a.expect(a.do(http.MethodGet, "/trips/history", "garbage", nil), http.StatusUnauthorized)
	a.expect(a.do(http.MethodGet, "/trips/active", "passenger:p1", nil), http.StatusForbidden)
	a.expect(a.do(http.MethodPost, "/trips", "driver:d1", map[string]any{"fare": 1000}), http.StatusForbidden)
	a.expect(a.do(http.MethodPut, "/admin/payouts/x", "driver:d1", map[string]any{"status": "paid"}), http.StatusForbidden)
}

func TestTripLifecycle(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodPost, "/trips", "passenger:p1", map[string]any{
		"pickup":  map[string]any{"lat": 1.2140, "lng": -77.2800},
		"dropoff": map[string]any{"lat": 1.2300, "lng": -77.2900},
		"fare":    10000,
	})
	a.expect(w, http.StatusCreated)
	res := decode[dispatch.Result](t, w)
	if res.DriversNotified != 2 {
		t.Fatalf("drivers_notified = %d, want 2 (pending driver excluded)", res.DriversNotified)
	}
	tr := res.Trip
	if tr.Status != trip.StatusRequested || tr.DistanceKm <= 0 {
		t.Fatalf("unexpected trip %+v", tr)
	}
	path := "/trips/" + string(tr.ID)

	active := decode[struct {
		Trips []trip.Trip `json:"trips"`
	}](t, a.do(http.MethodGet, "/trips/active", "driver:d1", nil))
	if len(active.Trips) != 1 {
		t.Fatalf("active trips = %d, want 1", len(active.Trips))
	}
	pending := decode[struct {
		Trips []trip.Trip `json:"trips"`
	}](t, a.do(http.MethodGet, "/trips/active", "driver:d3", nil))
	if len(pending.Trips) != 0 {
		t.Fatalf("unverified driver sees %d trips", len(pending.Trips))
	}

	rec := decode[dispatch.Record](t, a.do(http.MethodGet, path+"/dispatch", "passenger:p1", nil))
	if len(rec.Notified) != 2 {
		t.Fatalf("dispatch notified = %v", rec.Notified)
	}

	a.expect(a.do(http.MethodPut, path+"/accept", "driver:d3", nil), http.StatusForbidden)
	a.expect(a.do(http.MethodPut, path+"/accept", "driver:d1", nil), http.StatusOK)
	a.expect(a.do(http.MethodPut, path+"/accept", "driver:d2", nil), http.StatusNotFound)
	a.expect(a.do(http.MethodGet, path, "passenger:p9", nil), http.StatusForbidden)
	a.expect(a.do(http.MethodGet, "/trips/missing-trip", "passenger:p1", nil), http.StatusNotFound)

	a.expect(a.do(http.MethodPut, path+"/status", "driver:d1", map[string]any{"status": "flying"}), http.StatusBadRequest)
	a.expect(a.do(http.MethodPut, path+"/rate", "passenger:p1", map[string]any{"rating": 5}), http.StatusBadRequest)
	for _, st := range []string{"driver_arriving", "in_progress", "completed"} {
		a.expect(a.do(http.MethodPut, path+"/status", "driver:d1", map[string]any{"status": st}), http.StatusOK)
	}

	w = a.do(http.MethodPut, path+"/rate", "passenger:p1", map[string]any{"rating": 5, "comment": "excelente"})
	a.expect(w, http.StatusOK)
	if got := decode[tripBody](t, w).Trip; got.DriverRating == nil || *got.DriverRating != 5 {
		t.Fatalf("driver rating not stored: %+v", got)
	}
	a.expect(a.do(http.MethodPut, path+"/rate", "passenger:p1", map[string]any{"rating": 1}), http.StatusConflict)
	a.expect(a.do(http.MethodPut, path+"/rate", "driver:d1", map[string]any{"rating": 4}), http.StatusOK)

	history := decode[struct {
		Trips []trip.Trip `json:"trips"`
	}](t, a.do(http.MethodGet, "/trips/history", "driver:d1", nil))
	if len(history.Trips) != 1 || history.Trips[0].Status != trip.StatusCompleted {
		t.Fatalf("unexpected history %+v", history.Trips)
	}
}

func TestOfferFlow(t *testing.T) {
	a := newAPI(t)
	tr := a.createTrip(10000)
	path := "/trips/" + string(tr.ID)

	a.expect(a.do(http.MethodPost, path+"/offers", "driver:d1", map[string]any{"price": 0}), http.StatusBadRequest)
	a.expect(a.do(http.MethodPost, path+"/offers", "driver:d3", map[string]any{"price": 7000}), http.StatusForbidden)
	a.expect(a.do(http.MethodPost, path+"/offers", "driver:d9", map[string]any{"price": 7000}), http.StatusNotFound)
	a.expect(a.do(http.MethodPost, path+"/offers", "driver:d1", map[string]any{"price": 12000}), http.StatusCreated)
	a.expect(a.do(http.MethodPost, path+"/offers", "driver:d2", map[string]any{"price": 11000}), http.StatusCreated)

	list := decode[struct {
		Offers []offer.Offer `json:"offers"`
	}](t, a.do(http.MethodGet, path+"/offers", "passenger:p1", nil))
	if len(list.Offers) != 2 {
		t.Fatalf("offers = %d, want 2", len(list.Offers))
	}
	a.expect(a.do(http.MethodGet, path+"/offers", "driver:d1", nil), http.StatusForbidden)

	w := a.do(http.MethodPut, path+"/offers/d2/accept", "passenger:p1", nil)
	a.expect(w, http.StatusOK)
	got := decode[tripBody](t, w).Trip
	if got.DriverID == nil || *got.DriverID != "d2" || got.Fare != 11000 || got.Status != trip.StatusAccepted {
		t.Fatalf("unexpected accepted trip %+v", got)
	}
	a.expect(a.do(http.MethodPut, path+"/offers/d1/accept", "passenger:p1", nil), http.StatusNotFound)
	a.expect(a.do(http.MethodPost, path+"/offers", "driver:d1", map[string]any{"price": 9000}), http.StatusConflict)
}

func (a *api) completedTrip(fare int64) trip.Trip {
	a.t.Helper()
	tr := a.createTrip(fare)
	path := "/trips/" + string(tr.ID)
	a.expect(a.do(http.MethodPut, path+"/accept", "driver:d1", nil), http.StatusOK)
	for _, st := range []string{"in_progress", "completed"} {
		a.expect(a.do(http.MethodPut, path+"/status", "driver:d1", map[string]any{"status": st}), http.StatusOK)
	}
	return tr
}

func TestPaymentsAndWallet(t *testing.T) {
	a := newAPI(t)

	a.expect(a.do(http.MethodGet, "/payments/wallet", "driver:d1", nil), http.StatusNotFound)

	tr := a.completedTrip(10000)
	w := a.do(http.MethodPost, "/payments/process", "passenger:p1", map[string]any{"trip_id": tr.ID, "method": "cash"})
	a.expect(w, http.StatusCreated)
	paid := decode[struct {
		Transaction payment.Payment `json:"transaction"`
	}](t, w)
	if paid.Transaction.Status != payment.StatusApproved {
		t.Fatalf("cash payment status = %s", paid.Transaction.Status)
	}
	a.expect(a.do(http.MethodPost, "/payments/process", "passenger:p1", map[string]any{"trip_id": tr.ID, "method": "cash"}), http.StatusConflict)
	a.expect(a.do(http.MethodPost, "/payments/process", "passenger:p1", map[string]any{"trip_id": tr.ID, "method": "card"}), http.StatusBadGateway)

	body := decode[struct {
		Wallet       wallet.Wallet        `json:"wallet"`
		Transactions []wallet.Transaction `json:"transactions"`
	}](t, a.do(http.MethodGet, "/payments/wallet", "driver:d1", nil))
	if body.Wallet.Balance != 8500 || len(body.Transactions) != 1 {
		t.Fatalf("wallet = %+v, %d entries", body.Wallet, len(body.Transactions))
	}

	method := map[string]any{"type": "nequi", "account_number": "3001234567", "account_holder": "Andrés Muñoz"}
	a.expect(a.do(http.MethodPost, "/payments/wallet/withdraw", "driver:d1", map[string]any{"amount": 5000, "method": method}), http.StatusBadRequest)
	a.expect(a.do(http.MethodPost, "/payments/wallet/withdraw", "driver:d1", map[string]any{"amount": 25000, "method": method}), http.StatusBadRequest)

	w = a.do(http.MethodGet, "/payments/wallet/statement", "driver:d1", nil)
	a.expect(w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("statement content type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Fatal("empty statement")
	}

	payouts := decode[struct {
		Payouts []wallet.Payout `json:"payouts"`
	}](t, a.do(http.MethodGet, "/payments/payouts", "driver:d1", nil))
	if len(payouts.Payouts) != 0 {
		t.Fatalf("payouts = %d, want 0", len(payouts.Payouts))
	}
}

func TestPaymentCallbackSignature(t *testing.T) {
	a := newAPI(t)
	raw := []byte(`{"reference":"chk_1","status":"APPROVED"}`)

	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(raw))
	req.Header.Set(handlers.SignatureHeader, payment.Sign("wrong", raw))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	a.expect(w, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(raw))
	req.Header.Set(handlers.SignatureHeader, payment.Sign(webhookSecret, raw))
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	a.expect(w, http.StatusNotFound)
}

func TestAdminVerification(t *testing.T) {
	a := newAPI(t)
	a.expect(a.do(http.MethodPut, "/admin/drivers/d3/verification", "admin:ops", map[string]any{"status": "unknown"}), http.StatusBadRequest)

	w := a.do(http.MethodPut, "/admin/drivers/d3/verification", "admin:ops", map[string]any{"status": "approved"})
	a.expect(w, http.StatusOK)
	got := decode[struct {
		Driver location.Driver `json:"driver"`
	}](t, w)
	if got.Driver.Verification != location.VerificationApproved {
		t.Fatalf("verification = %s", got.Driver.Verification)
	}

	tr := a.createTrip(9000)
	rec := decode[dispatch.Record](t, a.do(http.MethodGet, "/trips/"+string(tr.ID)+"/dispatch", "passenger:p1", nil))
	if len(rec.Notified) != 3 {
		t.Fatalf("after approval notified = %v, want 3 drivers", rec.Notified)
	}
}

func TestDriverSelfService(t *testing.T) {
	a := newAPI(t)
	a.expect(a.do(http.MethodPut, "/drivers/me/location", "driver:d9", map[string]any{"lat": 95, "lng": 0}), http.StatusBadRequest)
	w := a.do(http.MethodPut, "/drivers/me/location", "driver:d9", map[string]any{"lat": 1.21, "lng": -77.28})
	a.expect(w, http.StatusOK)
	a.expect(a.do(http.MethodPut, "/drivers/me/availability", "driver:d9", map[string]any{}), http.StatusBadRequest)
	w = a.do(http.MethodPut, "/drivers/me/availability", "driver:d9", map[string]any{"is_available": true})
	a.expect(w, http.StatusOK)
	got := decode[struct {
		Driver location.Driver `json:"driver"`
	}](t, w)
	if !got.Driver.IsAvailable || got.Driver.Verification != location.VerificationPending {
		t.Fatalf("unexpected driver %+v", got.Driver)
	}
}

type fixedTotals struct {
	delivered, failed int64
	err               error
}

func (f fixedTotals) Totals(context.Context) (int64, int64, error) {
	return f.delivered, f.failed, f.err
}

func TestNotificationStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		name   string
		source handlers.DeliveryTotals
		status int
		want   string
	}{
		{"untracked", nil, http.StatusOK, `{"delivered":0,"failed":0,"tracked":false}`},
		{"counted", fixedTotals{delivered: 12, failed: 2}, http.StatusOK, `{"delivered":12,"failed":2,"tracked":true}`},
		{"backend down", fixedTotals{err: errors.New("connection refused")}, http.StatusInternalServerError, `{"error":"internal error"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &api{t: t, router: httpapi.NewRouter(httpapi.Deps{
				Verifier:   tokenVerifier{},
				Logger:     logger,
				Deliveries: tc.source,
			})}
			a.expect(a.do(http.MethodGet, "/admin/stats/notifications", "driver:d1", nil), http.StatusForbidden)
			w := a.do(http.MethodGet, "/admin/stats/notifications", "admin:ops", nil)
			a.expect(w, tc.status)
			if got := strings.TrimSpace(w.Body.String()); got != tc.want {
				t.Fatalf("body = %s, want %s", got, tc.want)
			}
		})
	}
}
