package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/config"
	"github.com/traillend/reservation-flow/internal/database"
)

func main() {
	var (
		dbURLFlag string
		days      int
		dryRun    bool
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.IntVar(&days, "days", 30, "delete attempts older than this many days")
	flag.BoolVar(&dryRun, "dry-run", false, "print the cutoff without deleting")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}
	if days < 1 {
		log.Fatal("-days must be at least 1")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	fmt.Printf("Pruning reservation attempts created before %s\n", cutoff.Format(time.RFC3339))
	if dryRun {
		return
	}

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	repo := database.NewReservationAttemptRepository(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Fatalf("failed to prune attempts: %v", err)
	}
	fmt.Printf("Deleted %d attempt rows\n", deleted)
}
