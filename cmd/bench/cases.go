// README: Scenario cases: environment checks, the booking lifecycle over HTTP, consistency checks, races and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"karigar/migrations"
)

const (
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
	StatusPending = "PENDING"
	StatusSkip    = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// Scenario state shared by consecutive cases.
	customer string
	service  string
	worker   string
	booking  string
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
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
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
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

type response struct {
	code    int
	body    map[string]any
	latency time.Duration
}

func (r *Runner) call(ctx context.Context, method, path string, body any, role string) (response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return response{}, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-ID", "bench-"+role)
		req.Header.Set("X-Actor-Role", role)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	out := response{code: resp.StatusCode, latency: time.Since(start)}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	_ = json.Unmarshal(raw, &out.body)
	return out, nil
}

// expect runs one request and passes when the status is one of ok.
func (r *Runner) expect(ctx context.Context, method, path string, body any, role string, ok ...int) (response, Result) {
	resp, err := r.call(ctx, method, path, body, role)
	if err != nil {
		return resp, Result{Status: StatusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", resp.code)
	for _, c := range ok {
		if resp.code == c {
			return resp, Result{Status: StatusPass, Latency: resp.latency, Note: note}
		}
	}
	if msg, _ := resp.body["error"].(string); msg != "" {
		note += " " + msg
	}
	return resp, Result{Status: StatusFail, Latency: resp.latency, Note: note}
}

func str(m map[string]any, keys ...string) string {
	var v any = m
	for _, k := range keys {
		mm, ok := v.(map[string]any)
		if !ok {
			return ""
		}
		v = mm[k]
	}
	s, _ := v.(string)
	return s
}

func (r *Runner) register(ctx context.Context, role string) (string, error) {
	resp, err := r.call(ctx, http.MethodPost, "/api/users", map[string]any{
		"email":        fmt.Sprintf("%s-%s@bench.karigar.test", role, uuid.NewString()[:8]),
		"password":     "bench-password",
		"role":         role,
		"display_name": "bench " + role,
		"city":         "Pune",
	}, "")
	if err != nil {
		return "", err
	}
	if resp.code != http.StatusCreated {
		return "", fmt.Errorf("register %s: status=%d", role, resp.code)
	}
	profile := "customer"
	if role != "customer" {
		profile = "worker"
	}
	return str(resp.body, profile, "id"), nil
}

func (r *Runner) onlineWorker(ctx context.Context) (string, error) {
	id, err := r.register(ctx, "worker")
	if err != nil {
		return "", err
	}
	resp, err := r.call(ctx, http.MethodPut, "/api/workers/"+id+"/presence", map[string]any{
		"online":   true,
		"location": map[string]any{"lat": 18.5310, "lng": 73.8470},
	}, "worker")
	if err != nil {
		return "", err
	}
	if resp.code != http.StatusOK {
		return "", fmt.Errorf("presence: status=%d", resp.code)
	}
	return id, nil
}

func (r *Runner) newBooking(ctx context.Context) (string, error) {
	resp, err := r.call(ctx, http.MethodPost, "/api/bookings", map[string]any{
		"customer_id": r.customer,
		"service_id":  r.service,
		"address":     "FC Road, Shivajinagar",
		"city":        "Pune",
		"location":    map[string]any{"lat": 18.5246, "lng": 73.8412},
	}, "customer")
	if err != nil {
		return "", err
	}
	if resp.code != http.StatusCreated {
		return "", fmt.Errorf("create booking: status=%d", resp.code)
	}
	return str(resp.body, "id"), nil
}

// step moves a booking through the given statuses, failing on the first non-200.
func (r *Runner) step(ctx context.Context, id string, statuses ...string) error {
	for _, s := range statuses {
		resp, err := r.call(ctx, http.MethodPatch, "/api/bookings/"+id, map[string]any{"status": s}, "worker")
		if err != nil {
			return err
		}
		if resp.code != http.StatusOK {
			return fmt.Errorf("advance to %s: status=%d", s, resp.code)
		}
	}
	return nil
}

func (r *Runner) assign(ctx context.Context, bookingID, workerID string) error {
	resp, err := r.call(ctx, http.MethodPost, "/api/bookings/"+bookingID+"/assign", map[string]any{"worker_id": workerID}, "thekedar")
	if err != nil {
		return err
	}
	if resp.code != http.StatusOK {
		return fmt.Errorf("assign: status=%d", resp.code)
	}
	return nil
}

func needsSetup(r *Runner) (Result, bool) {
	if r.booking == "" {
		return Result{Status: StatusSkip, Note: "scenario setup failed"}, false
	}
	return Result{}, true
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "dsn not set"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not set"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				if err := migrations.Apply(ctx, r.db); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				tables, err := migrations.Tables()
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				_, res := r.expect(ctx, http.MethodGet, "/health", nil, "", http.StatusOK)
				return res
			},
		},
		{
			Name: "Setup: customer, worker and service",
			Run: func(ctx context.Context, r *Runner) Result {
				var err error
				if r.customer, err = r.register(ctx, "customer"); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if r.worker, err = r.onlineWorker(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				resp, res := r.expect(ctx, http.MethodPost, "/api/services", map[string]any{
					"name":  "Bench plumbing " + uuid.NewString()[:6],
					"price": map[string]any{"amount": 45000, "currency": "INR"},
				}, "", http.StatusCreated)
				r.service = str(resp.body, "id")
				return res
			},
		},
		{
			Name: "Booking: create",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.service == "" {
					return Result{Status: StatusSkip, Note: "scenario setup failed"}
				}
				start := time.Now()
				id, err := r.newBooking(ctx)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				r.booking = id
				return Result{Status: StatusPass, Latency: time.Since(start)}
			},
		},
		{
			Name: "Booking: unknown service -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				_, res := r.expect(ctx, http.MethodPost, "/api/bookings", map[string]any{
					"customer_id": r.customer, "service_id": "nosuchservice", "address": "x",
				}, "customer", http.StatusBadRequest)
				return res
			},
		},
		{
			Name: "Booking: fix before assignment -> 409",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				_, res := r.expect(ctx, http.MethodPost, "/api/bookings/"+r.booking+"/location",
					map[string]any{"lat": 18.53, "lng": 73.84}, "worker", http.StatusConflict)
				return res
			},
		},
		{
			Name: "Booking: assign worker",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				resp, res := r.expect(ctx, http.MethodPost, "/api/bookings/"+r.booking+"/assign",
					map[string]any{"worker_id": r.worker}, "thekedar", http.StatusOK)
				if res.Status == StatusPass && str(resp.body, "worker", "id") != r.worker {
					return Result{Status: StatusFail, Note: "resolved worker missing"}
				}
				return res
			},
		},
		{
			Name: "Booking: reassign -> 409",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				_, res := r.expect(ctx, http.MethodPost, "/api/bookings/"+r.booking+"/assign",
					map[string]any{"worker_id": r.worker}, "thekedar", http.StatusConflict)
				return res
			},
		},
		{
			Name: "Booking: worker accepts",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				_, res := r.expect(ctx, http.MethodPatch, "/api/bookings/"+r.booking,
					map[string]any{"status": "accepted"}, "worker", http.StatusOK)
				return res
			},
		},
		{
			Name: "Location: worker fix accepted",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				resp, res := r.expect(ctx, http.MethodPost, "/api/bookings/"+r.booking+"/location",
					map[string]any{"lat": 18.5290, "lng": 73.8450, "accuracy": 8}, "worker", http.StatusAccepted)
				if res.Status == StatusPass && resp.body["accepted"] != true {
					return Result{Status: StatusFail, Note: "fix not accepted"}
				}
				return res
			},
		},
		{
			Name: "Location: invalid coords -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				_, res := r.expect(ctx, http.MethodPost, "/api/bookings/"+r.booking+"/location",
					map[string]any{"lat": 123.0, "lng": 456.0}, "worker", http.StatusBadRequest)
				return res
			},
		},
		{
			Name: "Route: estimate",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				resp, res := r.expect(ctx, http.MethodGet, "/api/bookings/"+r.booking+"/route", nil, "customer", http.StatusOK)
				if resp.code == http.StatusServiceUnavailable {
					return Result{Status: StatusPending, Latency: resp.latency, Note: "routing provider unavailable"}
				}
				return res
			},
		},
		{
			Name: "Booking: start and complete",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				start := time.Now()
				if err := r.step(ctx, r.booking, "in_progress", "completed"); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass, Latency: time.Since(start)}
			},
		},
		{
			Name: "Location: late fix dropped",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				resp, res := r.expect(ctx, http.MethodPost, "/api/bookings/"+r.booking+"/location",
					map[string]any{"lat": 18.5246, "lng": 73.8412}, "worker", http.StatusAccepted)
				if res.Status == StatusPass && resp.body["accepted"] != false {
					return Result{Status: StatusFail, Note: "late fix was stored"}
				}
				return res
			},
		},
		{
			Name: "Booking: completed cannot transition",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				_, res := r.expect(ctx, http.MethodPatch, "/api/bookings/"+r.booking,
					map[string]any{"status": "cancelled"}, "customer", http.StatusConflict)
				return res
			},
		},
		{
			Name: "Consistency: audit log",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				resp, res := r.expect(ctx, http.MethodGet, "/api/bookings/"+r.booking+"/events", nil, "", http.StatusOK)
				if res.Status != StatusPass {
					return res
				}
				events, _ := resp.body["events"].([]any)
				if len(events) != 5 {
					return Result{Status: StatusFail, Note: fmt.Sprintf("events=%d want 5", len(events))}
				}
				return res
			},
		},
		{
			Name: "Consistency: status_version matches events",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				var version, events int
				err := r.db.QueryRow(ctx, `
					SELECT b.status_version, (SELECT count(*) FROM booking_status_events e WHERE e.booking_id = b.id)
					FROM bookings b WHERE b.id = $1`, r.booking).Scan(&version, &events)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if version != events-1 {
					return Result{Status: StatusFail, Note: fmt.Sprintf("status_version=%d events=%d", version, events)}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("status_version=%d", version)}
			},
		},
		{
			Name: "Consistency: tracking purged on completion",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				n, err := r.redis.Exists(ctx,
					"track:"+r.booking+":latest",
					"track:"+r.booking+":hist:worker",
					"track:"+r.booking+":hist:customer",
				).Result()
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if n != 0 {
					return Result{Status: StatusFail, Note: fmt.Sprintf("%d tracking keys left", n)}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Concurrency: many workers, one booking",
			Run:  raceWorkersOnBooking,
		},
		{
			Name: "Concurrency: one worker, many bookings",
			Run:  raceBookingsOnWorker,
		},
		{
			Name: "Concurrency: cancel vs complete",
			Run:  raceCancelComplete,
		},
		{
			Name: "Perf: location fix throughput",
			Run:  perfFixes,
		},
		{
			Name: "Perf: booking creation throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := needsSetup(r); !ok {
					return res
				}
				return perfLoad(ctx, r, func(ctx context.Context) (int, error) {
					resp, err := r.call(ctx, http.MethodPost, "/api/bookings", map[string]any{
						"customer_id": r.customer, "service_id": r.service, "address": "Baner Road", "city": "Pune",
						"location": map[string]any{"lat": 18.559, "lng": 73.786},
					}, "customer")
					return resp.code, err
				})
			},
		},
	}
}

// fanOut fires n calls at once and counts 200 responses.
func fanOut(n int, call func(i int) (int, error)) (ok, failed int) {
	var wg sync.WaitGroup
	var okCount, errCount atomic.Int64
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			code, err := call(i)
			switch {
			case err != nil:
				errCount.Add(1)
			case code == http.StatusOK:
				okCount.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return int(okCount.Load()), int(errCount.Load())
}

func raceWorkersOnBooking(ctx context.Context, r *Runner) Result {
	if res, ok := needsSetup(r); !ok {
		return res
	}
	bookingID, err := r.newBooking(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	workers := make([]string, r.cfg.Concurrency)
	for i := range workers {
		if workers[i], err = r.onlineWorker(ctx); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	ok, errs := fanOut(len(workers), func(i int) (int, error) {
		resp, err := r.call(ctx, http.MethodPost, "/api/bookings/"+bookingID+"/assign", map[string]any{"worker_id": workers[i]}, "thekedar")
		return resp.code, err
	})
	if ok != 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("success=%d errors=%d", ok, errs)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("success=%d of %d", ok, len(workers))}
}

func raceBookingsOnWorker(ctx context.Context, r *Runner) Result {
	if res, ok := needsSetup(r); !ok {
		return res
	}
	worker, err := r.onlineWorker(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	bookings := make([]string, r.cfg.Concurrency)
	for i := range bookings {
		if bookings[i], err = r.newBooking(ctx); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	ok, errs := fanOut(len(bookings), func(i int) (int, error) {
		resp, err := r.call(ctx, http.MethodPost, "/api/bookings/"+bookings[i]+"/assign", map[string]any{"worker_id": worker}, "thekedar")
		return resp.code, err
	})
	if ok != 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("success=%d errors=%d", ok, errs)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("success=%d of %d", ok, len(bookings))}
}

func raceCancelComplete(ctx context.Context, r *Runner) Result {
	if res, ok := needsSetup(r); !ok {
		return res
	}
	worker, err := r.onlineWorker(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	bookingID, err := r.newBooking(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if err := r.assign(ctx, bookingID, worker); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if err := r.step(ctx, bookingID, "accepted", "in_progress"); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	targets := []string{"cancelled", "completed"}
	ok, errs := fanOut(len(targets), func(i int) (int, error) {
		resp, err := r.call(ctx, http.MethodPatch, "/api/bookings/"+bookingID, map[string]any{"status": targets[i]}, "worker")
		return resp.code, err
	})
	if ok != 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("success=%d errors=%d", ok, errs)}
	}
	resp, err := r.call(ctx, http.MethodGet, "/api/workers/"+worker, nil, "")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if str(resp.body, "availability") != "online" {
		return Result{Status: StatusFail, Note: "worker not released: " + str(resp.body, "availability")}
	}
	return Result{Status: StatusPass}
}

func perfFixes(ctx context.Context, r *Runner) Result {
	if res, ok := needsSetup(r); !ok {
		return res
	}
	worker, err := r.onlineWorker(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	bookingID, err := r.newBooking(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if err := r.assign(ctx, bookingID, worker); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer func() { _ = r.step(context.WithoutCancel(ctx), bookingID, "cancelled") }()
	return perfLoad(ctx, r, func(ctx context.Context) (int, error) {
		resp, err := r.call(ctx, http.MethodPost, "/api/bookings/"+bookingID+"/location",
			map[string]any{"lat": 18.53, "lng": 73.845}, "worker")
		return resp.code, err
	})
}

func perfLoad(ctx context.Context, r *Runner, do func(ctx context.Context) (int, error)) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, err := do(ctx)
				switch {
				case err != nil:
					errCount.Add(1)
				case code >= 400:
					rejected.Add(1)
				default:
					count.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("no successful requests (rejected=%d errors=%d)", rejected.Load(), errCount.Load())}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f rejected=%d errors=%d", rps, rejected.Load(), errCount.Load())}
}
