// seed inserts development sample data for local testing. Run with go run ./cmd/seed.
// Idempotent: existing dev users and the sample payment are left as they are.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"securepay/backend/internal/config"
	"securepay/backend/internal/db"
	"securepay/backend/internal/logger"
	paymentrepo "securepay/backend/internal/payment/repository"
	paymentservice "securepay/backend/internal/payment/service"
	"securepay/backend/internal/security"
	userdomain "securepay/backend/internal/user/domain"
	userrepo "securepay/backend/internal/user/repository"
)

const (
	devUsername        = "dev"
	devPassword        = "DevPassword123!"
	adminUsername      = "admin"
	samplePaymentRef   = "SEED-0001"
	samplePaymentValue = "125.50"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.IsProduction() {
		log.Fatal("refusing to seed a production database")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer conn.Close()

	timeout := cfg.StoreTimeoutDuration()
	s := seeder{
		users:  userrepo.NewPostgresRepository(conn, timeout),
		ledger: paymentservice.NewLedger(paymentrepo.NewPostgresRepository(conn, timeout), paymentservice.WithLogger(log)),
		hasher: security.NewHasher(cfg.BcryptCost),
		log:    log,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.run(ctx); err != nil {
		log.Fatal("seed", zap.Error(err))
	}
	log.Info("seed complete", zap.String("username", devUsername), zap.String("password", devPassword))
}

type seeder struct {
	users  userrepo.Repository
	ledger *paymentservice.Ledger
	hasher *security.Hasher
	log    *zap.Logger
}

// run creates the dev and admin accounts and one CREATED payment owned by the dev user.
func (s seeder) run(ctx context.Context) error {
	devID, err := s.ensureUser(ctx, devUsername, userdomain.RoleUser)
	if err != nil {
		return err
	}
	if _, err := s.ensureUser(ctx, adminUsername, userdomain.RoleAdmin); err != nil {
		return err
	}
	_, err = s.ledger.Create(ctx, paymentservice.CreateInput{
		OwnerID:     devID,
		Amount:      decimal.RequireFromString(samplePaymentValue),
		Currency:    "USD",
		ReferenceID: samplePaymentRef,
	})
	switch {
	case errors.Is(err, paymentservice.ErrDuplicateReference):
		s.log.Info("sample payment exists, skipping", zap.String("reference_id", samplePaymentRef))
	case err != nil:
		return fmt.Errorf("sample payment: %w", err)
	}
	return nil
}

// ensureUser returns the id of username, creating the account with devPassword if missing.
func (s seeder) ensureUser(ctx context.Context, username string, role userdomain.Role) (string, error) {
	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", username, err)
	}
	if existing != nil {
		s.log.Info("user exists, skipping", zap.String("username", username))
		return existing.ID, nil
	}
	hash, err := s.hasher.Hash([]byte(devPassword))
	if err != nil {
		return "", err
	}
	u := &userdomain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := u.Validate(); err != nil {
		return "", err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", fmt.Errorf("create %s: %w", username, err)
	}
	return u.ID, nil
}
