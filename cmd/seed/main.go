package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresched/slot-reservation/internal/db"
)

var slotTimes = []string{
	"09:00", "09:45", "10:30", "11:15",
	"13:00", "13:45", "14:30", "15:15", "16:00",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	providers := flag.Int("providers", 50, "number of providers to seed slots for")
	days := flag.Int("days", 14, "days of slot grid per provider, starting tomorrow")
	flag.Parse()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedSlots(context.Background(), pool, *providers, *days); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, providers, days int) error {
	log.Printf("seeding slot grids for %d providers over %d days", providers, days)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	for i := 0; i < providers; i++ {
		providerID := uuid.New()

		for d := 1; d <= days; d++ {
			date := time.Now().AddDate(0, 0, d).Format("2006-01-02")

			for _, slotTime := range slotTimes {
				// Leave gaps so the grid looks like a real calendar.
				if gofakeit.Number(0, 99) < 30 {
					continue
				}

				desc := ""
				if gofakeit.Bool() {
					desc = fmt.Sprintf("%s consultation", gofakeit.RandomString([]string{"Initial", "Follow-up", "Video", "Phone"}))
				}

				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, provider_id, slot_date, slot_time, duration_minutes, state, description, created_at, updated_at)
					VALUES ($1, $2, $3, $4, 45, 'active', $5, now(), now())
				`, uuid.New(), providerID, date, slotTime, desc)
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("inserted %d slots", total)
	return nil
}
