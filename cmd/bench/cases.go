// README: Bench cases: environment checks, tracking API flows, concurrency and ingest/proximity load.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const geoIndexKey = "tracking:drivers:geo"

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	runID string
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
		runID: fmt.Sprintf("bench%d", time.Now().Unix()),
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
		fmt.Printf("%-5s %s", res.Status, tc.Name)
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

func (r *Runner) driver(i int) string {
	return fmt.Sprintf("%s-d%d", r.runID, i)
}

// position scatters driver i within roughly 3km of the fleet center.
func (r *Runner) position(i int, rng *rand.Rand) map[string]any {
	return map[string]any{
		"latitude":  r.cfg.CenterLat + (rng.Float64()-0.5)*0.05,
		"longitude": r.cfg.CenterLng + (rng.Float64()-0.5)*0.05,
		"speed_kmh": 20 + rng.Float64()*40,
	}
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	d0 := r.driver(0)
	ride := r.runID + "-r1"
	route := map[string]any{
		"legs": []map[string]any{{
			"start":            map[string]float64{"lat": r.cfg.CenterLat, "lng": r.cfg.CenterLng},
			"end":              map[string]float64{"lat": r.cfg.CenterLat + 0.02, "lng": r.cfg.CenterLng + 0.02},
			"distance_meters":  3000,
			"duration_seconds": 600,
		}},
	}

	return []TestCase{
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
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
			Name: "Env: alert archive table",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "no dsn"}
				}
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
					"tracking_alerts",
				).Scan(&exists)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if !exists {
					return Result{Status: "FAIL", Note: "missing table: tracking_alerts"}
				}
				return Result{Status: "PASS"}
			},
		},
		httpCase("API: health", http.MethodGet, base+"/health", nil, []int{200}),

		// Driver lifecycle
		httpCase("Tracking: start driver", http.MethodPost, base+"/api/tracking/drivers/"+d0+"/start", map[string]any{
			"location": map[string]any{"latitude": r.cfg.CenterLat, "longitude": r.cfg.CenterLng},
		}, []int{200}),
		httpCase("Tracking: update location", http.MethodPut, base+"/api/tracking/drivers/"+d0+"/location", map[string]any{
			"latitude": r.cfg.CenterLat + 0.001, "longitude": r.cfg.CenterLng, "speed_kmh": 35,
		}, []int{200}),
		httpCase("Tracking: invalid coords -> 400", http.MethodPut, base+"/api/tracking/drivers/"+d0+"/location", map[string]any{
			"latitude": 123.0, "longitude": 456.0,
		}, []int{400}),
		httpCase("Tracking: unknown driver -> 404", http.MethodGet, base+"/api/tracking/drivers/"+r.runID+"-ghost", nil, []int{404}),
		{
			Name: "Redis: driver indexed",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				pos, err := r.redis.GeoPos(ctx, geoIndexKey, d0).Result()
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if len(pos) == 0 || pos[0] == nil {
					return Result{Status: "FAIL", Note: "driver missing from geo index"}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("lat=%.5f lng=%.5f", pos[0].Latitude, pos[0].Longitude)}
			},
		},
		httpCase("Proximity: nearby", http.MethodGet, fmt.Sprintf("%s/api/tracking/nearby?lat=%f&lng=%f&radius_km=5", base, r.cfg.CenterLat, r.cfg.CenterLng), nil, []int{200}),

		// Ride flow
		httpCase("Ride: start", http.MethodPost, base+"/api/tracking/rides/"+ride+"/start", map[string]any{
			"driver_id": d0, "passenger_id": r.runID + "-p1", "route": route,
		}, []int{201}),
		httpCase("Ride: second ride -> 409", http.MethodPost, base+"/api/tracking/rides/"+ride+"x/start", map[string]any{
			"driver_id": d0, "passenger_id": r.runID + "-p2", "route": route,
		}, []int{409}),
		httpCase("Ride: progress", http.MethodPut, base+"/api/tracking/rides/"+ride+"/location", map[string]any{
			"latitude": r.cfg.CenterLat + 0.01, "longitude": r.cfg.CenterLng + 0.01, "speed_kmh": 30,
		}, []int{200}),
		httpCase("Ride: end", http.MethodPost, base+"/api/tracking/rides/"+ride+"/end", nil, []int{200}),
		httpCase("Ride: end twice -> 404", http.MethodPost, base+"/api/tracking/rides/"+ride+"/end", nil, []int{404}),

		// Concurrency
		{
			Name: "Concurrency: parallel ride starts, one winner",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentRideStart(ctx, r, route)
			},
		},
		manualCase("Error: Redis down -> 503", "stop Redis and observe responses"),

		// Load
		{
			Name: "Perf: location ingest throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPut, func(rng *rand.Rand) (string, any) {
					i := rng.Intn(r.cfg.Drivers)
					return fmt.Sprintf("%s/api/tracking/drivers/%s/location", base, r.driver(i)), r.position(i, rng)
				})
			},
		},
		{
			Name: "Perf: nearby query throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodGet, func(rng *rand.Rand) (string, any) {
					lat := r.cfg.CenterLat + (rng.Float64()-0.5)*0.05
					lng := r.cfg.CenterLng + (rng.Float64()-0.5)*0.05
					return fmt.Sprintf("%s/api/tracking/nearby?lat=%f&lng=%f&radius_km=2&limit=20", base, lat, lng), nil
				})
			},
		},
	}
}

func httpCase(name, method, url string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			status, err := r.do(ctx, method, url, body)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			latency := time.Since(start)
			if contains(okStatuses, status) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		},
	}
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: "SKIP", Note: note}
		},
	}
}

func (r *Runner) do(ctx context.Context, method, url string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// concurrentRideStart races distinct rides for one fresh driver; the driver
// lock must let exactly one through.
func concurrentRideStart(ctx context.Context, r *Runner, route map[string]any) Result {
	base := r.cfg.BaseURL
	driver := r.runID + "-race"
	status, err := r.do(ctx, http.MethodPost, base+"/api/tracking/drivers/"+driver+"/start", map[string]any{
		"location": map[string]any{"latitude": r.cfg.CenterLat, "longitude": r.cfg.CenterLng},
	})
	if err != nil || status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("driver start: status=%d err=%v", status, err)}
	}

	var wg sync.WaitGroup
	var succ, conflict atomic.Int64
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("%s/api/tracking/rides/%s-race-r%d/start", base, r.runID, i)
			status, err := r.do(ctx, http.MethodPost, url, map[string]any{
				"driver_id": driver, "passenger_id": fmt.Sprintf("%s-race-p%d", r.runID, i), "route": route,
			})
			if err != nil {
				return
			}
			switch status {
			case http.StatusCreated:
				succ.Add(1)
			case http.StatusConflict:
				conflict.Add(1)
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ.Load(), conflict.Load())
	if succ.Load() == 1 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func perfLoad(ctx context.Context, r *Runner, method string, next func(*rand.Rand) (string, any)) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, non2xx atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for time.Now().Before(end) && ctx.Err() == nil {
				url, body := next(rng)
				status, err := r.do(ctx, method, url, body)
				if err != nil {
					errCount.Add(1)
					continue
				}
				count.Add(1)
				if status < 200 || status >= 300 {
					non2xx.Add(1)
				}
			}
		}(int64(i) + time.Now().UnixNano())
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d non2xx=%d", rps, errCount.Load(), non2xx.Load())}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}
