package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"securepay/backend/internal/audit"
	auditrepo "securepay/backend/internal/audit/repository"
	"securepay/backend/internal/config"
	"securepay/backend/internal/db"
	identityservice "securepay/backend/internal/identity/service"
	"securepay/backend/internal/logger"
	paymentrepo "securepay/backend/internal/payment/repository"
	paymentservice "securepay/backend/internal/payment/service"
	"securepay/backend/internal/policy/engine"
	"securepay/backend/internal/security"
	"securepay/backend/internal/server"
	"securepay/backend/internal/server/interceptors"
	sessionrepo "securepay/backend/internal/session/repository"
	sessionservice "securepay/backend/internal/session/service"
	"securepay/backend/internal/telemetry"
	telemetryotel "securepay/backend/internal/telemetry/otel"
	"securepay/backend/internal/telemetry/producer"
	userrepo "securepay/backend/internal/user/repository"
)

// repositories groups the storage backends selected at startup.
type repositories struct {
	sessions sessionrepo.Repository
	payments paymentrepo.Repository
	users    userrepo.Repository
	audit    auditrepo.Repository
}

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
	zap.ReplaceGlobals(log)

	ctx := context.Background()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("otel providers", zap.Error(err))
	}
	providers.SetGlobal()

	var database *sql.DB
	repos := repositories{
		sessions: sessionrepo.NewMemoryRepository(),
		payments: paymentrepo.NewMemoryRepository(),
		users:    userrepo.NewMemoryRepository(),
		audit:    auditrepo.NewMemoryRepository(),
	}
	if cfg.DatabaseURL != "" {
		database, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("database", zap.Error(err))
		}
		defer database.Close()
		timeout := cfg.StoreTimeoutDuration()
		repos = repositories{
			sessions: sessionrepo.NewPostgresRepository(database, timeout),
			payments: paymentrepo.NewPostgresRepository(database, timeout),
			users:    userrepo.NewPostgresRepository(database, timeout),
			audit:    auditrepo.NewPostgresRepository(database, timeout),
		}
		log.Info("using postgres stores", zap.Duration("store_timeout", timeout))
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
	}

	secret, err := security.LoadSecret(cfg.JWTSecret)
	if err != nil {
		log.Fatal("jwt secret", zap.Error(err))
	}
	codec, err := security.NewCodec(secret, cfg.JWTIssuer)
	if err != nil {
		log.Fatal("token codec", zap.Error(err))
	}

	authorizer, err := loadAuthorizer(ctx, cfg.PaymentPolicyFile)
	if err != nil {
		log.Fatal("payment policy", zap.Error(err))
	}

	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic)
	events := telemetry.Fanout{}
	if kafkaProducer != nil {
		events = append(events, kafkaProducer)
		log.Info("publishing events to kafka", zap.String("topic", cfg.EventsKafkaTopic))
	}
	if cfg.OTelEndpoint != "" {
		events = append(events, telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}

	auditLogger := audit.NewLogger(repos.audit, interceptors.ClientIP, log)
	store := sessionservice.NewStore(repos.sessions, sessionservice.WithLogger(log))
	gateway := identityservice.NewGateway(codec, store, log)
	auth, err := identityservice.NewAuthService(repos.users, store, codec, security.NewHasher(cfg.BcryptCost), gateway,
		identityservice.Config{AccessTTL: cfg.AccessTTL(), RefreshTTL: cfg.RefreshTTL()},
		identityservice.WithLogger(log),
		identityservice.WithAuditLogger(auditLogger),
		identityservice.WithEventEmitter(events),
	)
	if err != nil {
		log.Fatal("auth service", zap.Error(err))
	}
	ledger := paymentservice.NewLedger(repos.payments,
		paymentservice.WithLogger(log),
		paymentservice.WithAuthorizer(authorizer),
		paymentservice.WithUsers(repos.users),
		paymentservice.WithAuditLogger(auditLogger),
		paymentservice.WithEventEmitter(events),
	)

	deps := server.Deps{
		Auth:          auth,
		Authenticator: gateway,
		Ledger:        ledger,
		AuditRepo:     repos.audit,
		AuditLogger:   auditLogger,
		Events:        events,
		Log:           log,
	}
	if database != nil {
		deps.HealthPinger = database
	}
	if checker, ok := authorizer.(interface{ HealthCheck(context.Context) error }); ok {
		deps.HealthPolicyChecker = checker
	}
	s := server.NewGRPCServer(deps)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}
	defer lis.Close()

	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := s.Serve(lis); err != nil {
			log.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gRPC server")
	s.GracefulStop()
	// Let in-flight async emits finish before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := kafkaProducer.Close(); err != nil {
		log.Warn("kafka producer close", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown", zap.Error(err))
	}
	log.Info("gRPC server stopped")
}

// loadAuthorizer returns the OPA payment authorizer, from path when set and the built-in policy otherwise.
func loadAuthorizer(ctx context.Context, path string) (engine.Authorizer, error) {
	if path != "" {
		return engine.LoadOPAAuthorizer(ctx, path)
	}
	return engine.NewOPAAuthorizer(ctx, engine.DefaultRegoPolicy)
}
