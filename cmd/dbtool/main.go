package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/config"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/migrations"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
)

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if len(os.Args) < 2 || os.Args[1] == "up" {
		log.Printf("Applying migrations...")
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		log.Printf("Migrations applied successfully")
		return
	}

	switch os.Args[1] {
	case "fix":
		log.Printf("Attempting to fix dirty database...")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			log.Fatalf("failed to fix dirty database: %v", err)
		}
		log.Printf("Database fixed successfully")

	case "force":
		if len(os.Args) < 3 {
			log.Fatalf("usage: %s force <version>", os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(os.Args[2], "%d", &v); err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}
		log.Printf("Forcing database version to %d...", v)
		if err := migrations.ForceVersion(db, v); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		log.Printf("Database version forced to %d", v)

	case "status":
		status, err := migrations.GetStatus(db)
		if err != nil {
			log.Fatalf("failed to read migration status: %v", err)
		}
		switch {
		case status.Fresh:
			log.Printf("No migrations applied")
		case status.Dirty:
			log.Printf("Schema version %d (dirty, run fix)", status.Version)
		default:
			log.Printf("Schema version %d", status.Version)
		}

	case "import":
		dir := cfg.FixturesDir
		if len(os.Args) > 2 {
			dir = os.Args[2]
		}
		if err := importFixtures(db, dir); err != nil {
			log.Fatalf("failed to import fixtures: %v", err)
		}

	default:
		log.Printf("Usage: %s [up|fix|force <version>|status|import [dir]]", os.Args[0])
		os.Exit(1)
	}
}

// importFixtures copies the fixture JSON collections into Postgres. Records
// that already exist are skipped so the import can be rerun.
func importFixtures(db *sql.DB, dir string) error {
	files, err := store.NewFileStore(dir)
	if err != nil {
		return err
	}
	pg, err := store.New(db)
	if err != nil {
		return err
	}

	ctx := context.Background()

	users, err := files.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := pg.ImportUser(ctx, u); err != nil {
			return err
		}
	}

	subs, err := files.ListSubscriptions(ctx, models.SubscriptionFilter{})
	if err != nil {
		return err
	}
	var imported, skipped, payments int
	for i := range subs {
		sub := subs[i]
		if _, err := pg.GetSubscription(ctx, sub.ID); err == nil {
			skipped++
			continue
		}
		if err := pg.InsertSubscription(ctx, &sub); err != nil {
			return err
		}
		imported++

		history, err := files.ListPayments(ctx, sub.ID)
		if err != nil {
			return err
		}
		for j := range history {
			if err := pg.AppendPayment(ctx, &history[j]); err != nil {
				return err
			}
			payments++
		}
	}

	log.Printf("Imported %d users, %d subscriptions (%d skipped), %d payments from %s",
		len(users), imported, skipped, payments, dir)
	return nil
}
