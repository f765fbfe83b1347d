package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuscare/counselling-booking/internal/auth"
	"github.com/campuscare/counselling-booking/internal/booking"
	"github.com/campuscare/counselling-booking/internal/db"
)

// Every seeded user gets the same password so local testing stays simple.
const seedPassword = "password123"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

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

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	counsellorIDs, err := seedUsers(context.Background(), pool, booking.RoleCounsellor, 20)
	if err != nil {
		log.Fatalf("seed counsellors: %v", err)
	}
	if _, err := seedUsers(context.Background(), pool, booking.RoleStudent, 500); err != nil {
		log.Fatalf("seed students: %v", err)
	}
	if err := seedSlots(context.Background(), pool, counsellorIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, role booking.Role, count int) ([]int64, error) {
	log.Printf("seeding %d users with role %s", count, role)

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		return nil, err
	}

	const batchSize = 100
	ids := make([]int64, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			name := gofakeit.Name()
			email := fmt.Sprintf("%s.%d@%s", gofakeit.Username(), i, gofakeit.DomainName())

			var id int64
			err := tx.QueryRow(ctx, `
				INSERT INTO users (name, email, role, password_hash)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, name, email, string(role), hash).Scan(&id)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("users seeded: %d/%d", end, count)
	}

	return ids, nil
}

// seedSlots gives every counsellor two weeks of hour-long weekday slots.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, counsellorIDs []int64) error {
	log.Printf("seeding slots for %d counsellors", len(counsellorIDs))

	dayStart := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	for _, counsellorID := range counsellorIDs {
		for day := 0; day < 14; day++ {
			date := dayStart.AddDate(0, 0, day)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			for hour := 9; hour < 17; hour++ {
				start := date.Add(time.Duration(hour) * time.Hour)
				price := int64(gofakeit.Number(300, 1500))

				_, err := tx.Exec(ctx, `
					INSERT INTO slots (counsellor_id, start_time, end_time, price)
					VALUES ($1, $2, $3, $4)
				`, counsellorID, start, start.Add(time.Hour), price)
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

	log.Printf("slots seeded: %d", total)
	return nil
}
