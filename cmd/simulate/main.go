package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookwise/booking-core/internal/db"
)

// simulate drives concurrent bookings against a running api-server and then
// audits the database: no two active appointments of the same resource may
// overlap, and no purchase counter may leave its bounds.

type target struct {
	BusinessID uuid.UUID
	ServiceID  uuid.UUID
	CustomerID uuid.UUID
}

type counters struct {
	created   atomic.Int64
	conflicts atomic.Int64
	rejected  atomic.Int64
	errors    atomic.Int64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	baseURL := getEnv("API_BASE_URL", "http://localhost:8080")
	workers := getInt("SIM_WORKERS", 16)
	duration := getDurationEnv("SIM_DURATION", 30*time.Second)
	date := time.Now().AddDate(0, 0, 1)
	for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		date = date.AddDate(0, 0, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, dsn)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	targets, err := loadTargets(context.Background(), pool)
	if err != nil {
		log.Fatalf("load targets: %v", err)
	}
	if len(targets) == 0 {
		log.Fatal("no registered customer/service pairs found, run the seed first")
	}
	log.Printf("loaded %d booking targets, running %d workers for %s against %s",
		len(targets), workers, duration, baseURL)

	client := &http.Client{Timeout: 10 * time.Second}
	runCtx, stop := context.WithTimeout(context.Background(), duration)
	defer stop()

	var stats counters
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for runCtx.Err() == nil {
				t := targets[rng.Intn(len(targets))]
				bookOnce(runCtx, client, baseURL, t, date, &stats)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	log.Printf("simulation done: created=%d conflicts=%d rejected=%d errors=%d",
		stats.created.Load(), stats.conflicts.Load(), stats.rejected.Load(), stats.errors.Load())

	if err := audit(context.Background(), pool); err != nil {
		log.Fatalf("AUDIT FAILED: %v", err)
	}
	log.Println("audit passed: no overlaps, all purchase counters in bounds")
}

// bookOnce asks for the day's open slots and tries to book one of them.
func bookOnce(ctx context.Context, client *http.Client, baseURL string, t target, date time.Time, stats *counters) {
	slotsURL := fmt.Sprintf("%s/businesses/%s/slots?service_id=%s&date=%s",
		baseURL, t.BusinessID, t.ServiceID, date.Format("2006-01-02"))

	var slots struct {
		Slots []string `json:"slots"`
	}
	if err := getJSON(ctx, client, slotsURL, &slots); err != nil {
		stats.errors.Add(1)
		return
	}
	if len(slots.Slots) == 0 {
		return
	}

	clock := slots.Slots[rand.Intn(len(slots.Slots))]
	start, err := time.ParseInLocation("2006-01-02 15:04", date.Format("2006-01-02")+" "+clock, time.Local)
	if err != nil {
		stats.errors.Add(1)
		return
	}

	body, _ := json.Marshal(map[string]string{
		"business_id": t.BusinessID.String(),
		"service_id":  t.ServiceID.String(),
		"customer_id": t.CustomerID.String(),
		"start_time":  start.Format(time.RFC3339),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		stats.errors.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		stats.errors.Add(1)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		stats.created.Add(1)
	case resp.StatusCode == http.StatusConflict:
		stats.conflicts.Add(1)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		stats.rejected.Add(1)
	default:
		stats.errors.Add(1)
	}
}

func loadTargets(ctx context.Context, pool *pgxpool.Pool) ([]target, error) {
	rows, err := pool.Query(ctx, `
		SELECT r.business_id, s.id, r.customer_id
		FROM registrations r
		JOIN services s ON s.business_id = r.business_id AND s.is_active
		LIMIT 5000
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.BusinessID, &t.ServiceID, &t.CustomerID); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func audit(ctx context.Context, pool *pgxpool.Pool) error {
	var overlaps int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments a
		JOIN appointments b
		  ON a.business_id = b.business_id
		 AND a.id < b.id
		 AND a.staff_id IS NOT DISTINCT FROM b.staff_id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.status IN ('pending', 'confirmed')
		  AND b.status IN ('pending', 'confirmed')
	`).Scan(&overlaps)
	if err != nil {
		return err
	}
	if overlaps > 0 {
		return fmt.Errorf("%d overlapping active appointment pairs", overlaps)
	}

	var badCounters int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM package_purchases
		WHERE remaining_sessions < 0 OR remaining_sessions > session_count
	`).Scan(&badCounters)
	if err != nil {
		return err
	}
	if badCounters > 0 {
		return fmt.Errorf("%d purchases with out-of-bounds session counters", badCounters)
	}
	return nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
