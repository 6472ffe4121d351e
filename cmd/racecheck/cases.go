// README: Race scenarios: setup, concurrent direct accepts, offer accept vs direct accept, persistence checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridematch/internal/infra"
)

const tokenTTL = 15 * time.Minute

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	runID     string
	passenger string
	drivers   []string
	tripID    string
	winner    string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	runID := uuid.NewString()[:8]
	drivers := make([]string, cfg.Concurrency)
	for i := range drivers {
		drivers[i] = fmt.Sprintf("race-%s-d%02d", runID, i)
	}
	return &Runner{
		cfg:       cfg,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		runID:     runID,
		passenger: "race-" + runID + "-p",
		drivers:   drivers,
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		res.Latency = time.Since(start)
		results = append(results, res)
		fmt.Printf("%-5s %s (%s)", res.Status, tc.Name, res.Latency.Round(time.Millisecond))
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
		if tc.Name == "Setup: drivers online" && res.Status != "PASS" {
			break
		}
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, err := r.call(ctx, http.MethodGet, "/health", "", nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not set"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not set"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Setup: drivers online",
			Run:  setupDrivers,
		},
		{
			Name: "Race: concurrent direct accepts",
			Run:  directAcceptRace,
		},
		{
			Name: "DB: winner persisted",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not set"}
				}
				if r.tripID == "" || r.winner == "" {
					return Result{Status: "SKIP", Note: "no race winner"}
				}
				var driverID, status string
				err := r.db.QueryRow(ctx, `SELECT driver_id, status FROM trips WHERE id = $1`, r.tripID).Scan(&driverID, &status)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if driverID != r.winner || status != "accepted" {
					return Result{Status: "FAIL", Note: fmt.Sprintf("driver_id=%s status=%s want %s/accepted", driverID, status, r.winner)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Redis: dispatch record",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not set"}
				}
				if r.tripID == "" {
					return Result{Status: "SKIP", Note: "no trip"}
				}
				n, err := r.redis.SCard(ctx, "dispatch:trip:"+r.tripID+":notified").Result()
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if n < int64(len(r.drivers)) {
					return Result{Status: "FAIL", Note: fmt.Sprintf("notified=%d want >= %d", n, len(r.drivers))}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("notified=%d", n)}
			},
		},
		{
			Name: "Race: offer accept vs direct accepts",
			Run:  offerAcceptRace,
		},
	}
}

// setupDrivers approves every race driver and puts them online next to the pickup.
func setupDrivers(ctx context.Context, r *Runner) Result {
	admin := r.token("race-"+r.runID+"-admin", "admin")
	for _, d := range r.drivers {
		tok := r.token(d, "driver")
		steps := []struct {
			method, path, token string
			body                any
		}{
			{http.MethodPut, "/admin/drivers/" + d + "/verification", admin, map[string]any{"status": "approved"}},
			{http.MethodPut, "/drivers/me/location", tok, map[string]any{"lat": 1.2136, "lng": -77.2811}},
			{http.MethodPut, "/drivers/me/availability", tok, map[string]any{"is_available": true}},
		}
		for _, s := range steps {
			status, body, err := r.call(ctx, s.method, s.path, s.token, s.body)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			if status != http.StatusOK {
				return Result{Status: "FAIL", Note: fmt.Sprintf("%s %s: status=%d %s", s.method, s.path, status, body)}
			}
		}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("drivers=%d", len(r.drivers))}
}

func directAcceptRace(ctx context.Context, r *Runner) Result {
	tripID, notified, err := r.createTrip(ctx)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	r.tripID = tripID

	statuses := r.race(ctx, len(r.drivers), func(i int) (int, error) {
		status, _, err := r.call(ctx, http.MethodPut, "/trips/"+tripID+"/accept", r.token(r.drivers[i], "driver"), nil)
		return status, err
	})
	winners, losers, other := tally(statuses)
	if len(winners) == 1 {
		r.winner = r.drivers[winners[0]]
	}
	note := fmt.Sprintf("notified=%d success=%d not_found=%d other=%d", notified, len(winners), losers, other)
	if len(winners) != 1 || other != 0 {
		return Result{Status: "FAIL", Note: note}
	}
	return Result{Status: "PASS", Note: note}
}

func offerAcceptRace(ctx context.Context, r *Runner) Result {
	tripID, _, err := r.createTrip(ctx)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	offerer := r.drivers[0]
	status, body, err := r.call(ctx, http.MethodPost, "/trips/"+tripID+"/offers", r.token(offerer, "driver"), map[string]any{"price": 9500})
	if err != nil || status != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("propose: status=%d err=%v %s", status, err, body)}
	}

	// slot 0 is the passenger accepting the offer; the rest are direct accepts
	passenger := r.token(r.passenger, "passenger")
	statuses := r.race(ctx, len(r.drivers), func(i int) (int, error) {
		if i == 0 {
			status, _, err := r.call(ctx, http.MethodPut, "/trips/"+tripID+"/offers/"+offerer+"/accept", passenger, nil)
			return status, err
		}
		status, _, err := r.call(ctx, http.MethodPut, "/trips/"+tripID+"/accept", r.token(r.drivers[i], "driver"), nil)
		return status, err
	})
	winners, losers, other := tally(statuses)
	via := "direct"
	if len(winners) == 1 && winners[0] == 0 {
		via = "offer"
	}
	note := fmt.Sprintf("success=%d not_found=%d other=%d won_by=%s", len(winners), losers, other, via)
	if len(winners) != 1 || other != 0 {
		return Result{Status: "FAIL", Note: note}
	}
	return Result{Status: "PASS", Note: note}
}

func (r *Runner) createTrip(ctx context.Context) (string, int, error) {
	status, body, err := r.call(ctx, http.MethodPost, "/trips", r.token(r.passenger, "passenger"), map[string]any{
		"pickup":  map[string]any{"lat": 1.2140, "lng": -77.2800, "address": "Parque Nariño"},
		"dropoff": map[string]any{"lat": 1.2300, "lng": -77.2900, "address": "Unicentro"},
		"fare":    9000,
	})
	if err != nil {
		return "", 0, err
	}
	if status != http.StatusCreated {
		return "", 0, fmt.Errorf("create trip: status=%d %s", status, body)
	}
	var out struct {
		Trip struct {
			ID string `json:"id"`
		} `json:"trip"`
		DriversNotified int `json:"drivers_notified"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, err
	}
	return out.Trip.ID, out.DriversNotified, nil
}

// race releases n callers at once and collects their status codes (0 on transport error).
func (r *Runner) race(ctx context.Context, n int, call func(i int) (int, error)) []int {
	statuses := make([]int, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status, err := call(i)
			if err != nil {
				return
			}
			statuses[i] = status
		}()
	}
	close(start)
	wg.Wait()
	return statuses
}

func tally(statuses []int) (winners []int, notFound, other int) {
	for i, s := range statuses {
		switch {
		case s >= 200 && s < 300:
			winners = append(winners, i)
		case s == http.StatusNotFound:
			notFound++
		default:
			other++
		}
	}
	return winners, notFound, other
}

func (r *Runner) token(uid, role string) string {
	tok, err := infra.IssueToken(r.cfg.JWTSecret, uid, role, tokenTTL)
	if err != nil {
		panic(err)
	}
	return tok
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}
