// migrate runs DB migrations from embedded SQL; use with go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"securepay/backend/internal/config"
	"securepay/backend/internal/db/migrate"
	"securepay/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	dsn := config.LoadDatabaseURL()
	if dsn == "" {
		log.Fatal("DATABASE_URL is not set; set DATABASE_URL or add it to .env")
	}
	if err := migrate.Run(dsn, *direction); err != nil {
		log.Fatal("migrate failed", zap.String("direction", *direction), zap.Error(err))
	}
	version, dirty, err := migrate.Version(dsn)
	if err != nil {
		log.Fatal("read schema version", zap.Error(err))
	}
	log.Info("migrations applied", zap.String("direction", *direction), zap.Uint("version", version), zap.Bool("dirty", dirty))
}
