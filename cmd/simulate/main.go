// Load driver for the booking API. Hammers a shared set of slots with
// concurrent reservation attempts, confirms a fraction of the winners,
// then checks the single-winner invariant directly against the database.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresched/slot-reservation/internal/db"
)

type counters struct {
	reserved     int64
	unavailable  int64
	confirmed    int64
	raceLost     int64
	otherErrors  int64
	requestsSent int64
}

type reservationBody struct {
	ID     uuid.UUID `json:"id"`
	SlotID uuid.UUID `json:"slot_id"`
	Status string    `json:"status"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	baseURL := flag.String("base-url", "http://localhost:8080", "booking API base URL")
	workers := flag.Int("workers", 20, "concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	confirmRatio := flag.Float64("confirm-ratio", 0.7, "fraction of won reservations to confirm")
	slotLimit := flag.Int("slot-limit", 200, "number of slots to contend over")
	flag.Parse()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration+30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	slots, err := loadActiveSlots(ctx, pool, *slotLimit)
	if err != nil {
		log.Fatalf("load slots: %v", err)
	}
	if len(slots) == 0 {
		log.Fatal("no active slots found, run cmd/seed first")
	}
	log.Printf("contending over %d slots with %d workers for %s", len(slots), *workers, *duration)

	client := &http.Client{Timeout: 10 * time.Second}
	var c counters

	runCtx, stopRun := context.WithTimeout(ctx, *duration)
	defer stopRun()

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			holderID := uuid.New()

			for runCtx.Err() == nil {
				slotID := slots[rng.Intn(len(slots))]
				res, ok := tryReserve(runCtx, client, *baseURL, slotID, holderID, &c)
				if ok && rng.Float64() < *confirmRatio {
					tryConfirm(runCtx, client, *baseURL, res.ID, &c)
				}
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()

	log.Printf("requests=%d reserved=%d unavailable=%d confirmed=%d race_lost=%d errors=%d",
		atomic.LoadInt64(&c.requestsSent),
		atomic.LoadInt64(&c.reserved),
		atomic.LoadInt64(&c.unavailable),
		atomic.LoadInt64(&c.confirmed),
		atomic.LoadInt64(&c.raceLost),
		atomic.LoadInt64(&c.otherErrors))

	if err := checkInvariants(ctx, pool); err != nil {
		log.Fatalf("INVARIANT VIOLATED: %v", err)
	}
	log.Println("invariants hold: no slot has more than one live reservation")
}

func loadActiveSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM slots WHERE state = 'active' ORDER BY slot_date, slot_time LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func tryReserve(ctx context.Context, client *http.Client, baseURL string, slotID, holderID uuid.UUID, c *counters) (*reservationBody, bool) {
	atomic.AddInt64(&c.requestsSent, 1)

	payload, _ := json.Marshal(map[string]string{
		"slot_id":   slotID.String(),
		"holder_id": holderID.String(),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/reservations", bytes.NewReader(payload))
	if err != nil {
		atomic.AddInt64(&c.otherErrors, 1)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			atomic.AddInt64(&c.otherErrors, 1)
		}
		return nil, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var body reservationBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			atomic.AddInt64(&c.otherErrors, 1)
			return nil, false
		}
		atomic.AddInt64(&c.reserved, 1)
		return &body, true
	case http.StatusConflict:
		atomic.AddInt64(&c.unavailable, 1)
	default:
		atomic.AddInt64(&c.otherErrors, 1)
	}
	return nil, false
}

func tryConfirm(ctx context.Context, client *http.Client, baseURL string, reservationID uuid.UUID, c *counters) {
	atomic.AddInt64(&c.requestsSent, 1)

	url := fmt.Sprintf("%s/reservations/%s/confirm", baseURL, reservationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		atomic.AddInt64(&c.otherErrors, 1)
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			atomic.AddInt64(&c.otherErrors, 1)
		}
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		atomic.AddInt64(&c.confirmed, 1)
	case http.StatusConflict:
		atomic.AddInt64(&c.raceLost, 1)
	default:
		atomic.AddInt64(&c.otherErrors, 1)
	}
}

// checkInvariants verifies, straight from the store, that no slot ended up
// with more than one pending-or-paid reservation and that every booked
// slot has exactly one paid reservation.
func checkInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var doubled int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT slot_id
			FROM reservations
			WHERE status IN ('pending', 'paid')
			GROUP BY slot_id
			HAVING count(*) > 1
		) d
	`).Scan(&doubled)
	if err != nil {
		return err
	}
	if doubled > 0 {
		return fmt.Errorf("%d slots have more than one live reservation", doubled)
	}

	var orphanBooked int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM slots s
		WHERE s.state = 'booked'
		  AND NOT EXISTS (
			SELECT 1 FROM reservations r
			WHERE r.slot_id = s.id AND r.status = 'paid'
		  )
	`).Scan(&orphanBooked)
	if err != nil {
		return err
	}
	if orphanBooked > 0 {
		return fmt.Errorf("%d booked slots have no paid reservation", orphanBooked)
	}

	return nil
}
