package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookwise/booking-core/internal/db"
)

var (
	schemaPath    = flag.String("schema", "", "path to schema.sql to apply before seeding")
	businessCount = flag.Int("businesses", 20, "number of businesses to seed")
	customerCount = flag.Int("customers", 2000, "number of customers to seed")
)

func main() {
	flag.Parse()
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

	if *schemaPath != "" {
		if err := applySchema(context.Background(), pool, *schemaPath); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
		log.Printf("applied schema from %s", *schemaPath)
	}

	gofakeit.Seed(time.Now().UnixNano())

	businessIDs, err := seedBusinesses(context.Background(), pool, *businessCount)
	if err != nil {
		log.Fatalf("seed businesses: %v", err)
	}
	customerIDs, err := seedCustomers(context.Background(), pool, *customerCount)
	if err != nil {
		log.Fatalf("seed customers: %v", err)
	}
	if err := seedRegistrations(context.Background(), pool, businessIDs, customerIDs); err != nil {
		log.Fatalf("seed registrations: %v", err)
	}

	log.Println("seed complete")
}

func applySchema(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(sql))
	return err
}

// seedBusinesses creates each business with working hours, staff, services
// and one bundle package covering every service.
func seedBusinesses(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d businesses", count)

	durations := []int{30, 45, 60, 90}
	ids := make([]uuid.UUID, 0, count)

	for i := 0; i < count; i++ {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		businessID := uuid.New()
		staffEnabled := gofakeit.Bool()
		requiresConfirmation := gofakeit.Number(0, 4) == 0

		_, err = tx.Exec(ctx, `
			INSERT INTO businesses (id, name, slot_interval_minutes, staff_module_enabled, requires_confirmation, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, businessID, gofakeit.Company(), 30, staffEnabled, requiresConfirmation)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}

		// Mon-Fri 09:00-17:00, Saturday mornings for some.
		for wd := 1; wd <= 5; wd++ {
			_, err = tx.Exec(ctx, `
				INSERT INTO working_hours (id, business_id, staff_id, weekday, is_active, start_time, end_time)
				VALUES ($1, $2, NULL, $3, true, '09:00', '17:00')
			`, uuid.New(), businessID, wd)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
		}
		if gofakeit.Bool() {
			_, err = tx.Exec(ctx, `
				INSERT INTO working_hours (id, business_id, staff_id, weekday, is_active, start_time, end_time)
				VALUES ($1, $2, NULL, 6, true, '09:00', '13:00')
			`, uuid.New(), businessID)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
		}

		if staffEnabled {
			for s := 0; s < gofakeit.Number(2, 5); s++ {
				_, err = tx.Exec(ctx, `
					INSERT INTO staff (id, business_id, name, is_active, can_accept_bookings, created_at, updated_at)
					VALUES ($1, $2, $3, true, true, now(), now())
				`, uuid.New(), businessID, gofakeit.Name())
				if err != nil {
					_ = tx.Rollback(ctx)
					return nil, err
				}
			}
		}

		serviceIDs := make([]uuid.UUID, 0, 4)
		for s := 0; s < gofakeit.Number(2, 4); s++ {
			serviceID := uuid.New()
			_, err = tx.Exec(ctx, `
				INSERT INTO services (id, business_id, name, duration_minutes, price_cents, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, true, now(), now())
			`, serviceID, businessID, gofakeit.BuzzWord()+" session",
				durations[gofakeit.Number(0, len(durations)-1)], gofakeit.Number(2000, 15000))
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			serviceIDs = append(serviceIDs, serviceID)
		}

		packageID := uuid.New()
		_, err = tx.Exec(ctx, `
			INSERT INTO packages (id, business_id, name, session_count, validity_days, price_cents, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, packageID, businessID, "10-session bundle", 10, 90, gofakeit.Number(15000, 80000))
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		for _, serviceID := range serviceIDs {
			_, err = tx.Exec(ctx, `
				INSERT INTO package_services (package_id, service_id, quantity)
				VALUES ($1, $2, 1)
			`, packageID, serviceID)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		ids = append(ids, businessID)
	}

	log.Println("businesses seeded")
	return ids, nil
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d customers", count)

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

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
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO customers (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}

	log.Println("customers seeded")
	return ids, nil
}

// seedRegistrations registers each customer with a couple of random
// businesses.
func seedRegistrations(ctx context.Context, pool *pgxpool.Pool, businessIDs, customerIDs []uuid.UUID) error {
	log.Printf("seeding registrations for %d customers", len(customerIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, customerID := range customerIDs {
		for n := 0; n < gofakeit.Number(1, 3); n++ {
			businessID := businessIDs[gofakeit.Number(0, len(businessIDs)-1)]
			_, err := tx.Exec(ctx, `
				INSERT INTO registrations (customer_id, business_id, created_at)
				VALUES ($1, $2, now())
				ON CONFLICT (customer_id, business_id) DO NOTHING
			`, customerID, businessID)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("registrations seeded")
	return nil
}
