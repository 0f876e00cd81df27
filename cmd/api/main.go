package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/router"
	"github.com/ovaphlow/pitchfork/service-identity/internal/rpc"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/telemetry"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

type serverEnv struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	GRPCAddr      string `env:"GRPC_ADDR" envDefault:"0.0.0.0:3000"`
	SnowflakeNode int64  `env:"SNOWFLAKE_NODE" envDefault:"1"`
	BcryptCost    int    `env:"BCRYPT_COST" envDefault:"12"`
}

type repository interface {
	user.Repository
	Migrate(ctx context.Context) error
}

// openRepository connects the configured store. The returned func closes it.
func openRepository(cfg database.Config, logger *zap.SugaredLogger) (repository, func(), error) {
	gate := database.NewGate(cfg.MaxInFlight)
	logger.Infow("store gate", "driver", cfg.Driver, "max_in_flight", gate.Weight())
	switch cfg.Driver {
	case database.DriverMemory:
		r, err := repo.NewMemoryRepo(gate, logger)
		return r, func() {}, err
	case database.DriverCassandra:
		session, err := database.ConnectCassandra(cfg)
		if err != nil {
			return nil, nil, err
		}
		r, err := repo.NewCassandraRepo(session, cfg, gate, logger)
		if err != nil {
			session.Close()
			return nil, nil, err
		}
		return r, session.Close, nil
	default:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, nil, err
		}
		r, err := repo.NewSQLRepo(db, gate, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return r, func() { db.Close() }, nil
	}
}

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	if err := run(sugar); err != nil {
		sugar.Errorw("service stopped", "err", err)
		_ = lg.Sync()
		os.Exit(1)
	}
	sugar.Info("goodbye")
}

func run(sugar *zap.SugaredLogger) error {
	var senv serverEnv
	if err := env.Parse(&senv); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := utilities.SetSnowflakeNode(senv.SnowflakeNode); err != nil {
		return fmt.Errorf("snowflake node: %w", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelCfg, err := telemetry.ConfigFromEnv()
	if err != nil {
		return err
	}
	shutdownTracing, err := telemetry.Setup(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(doneCtx); err != nil {
			sugar.Warnw("tracing shutdown failed", "err", err)
		}
	}()

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		return err
	}
	store, closeStore, err := openRepository(dbCfg, sugar)
	if err != nil {
		return fmt.Errorf("store connect: %w", err)
	}
	defer closeStore()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("store migrate: %w", err)
	}
	sugar.Infow("store ready", "driver", dbCfg.Driver)

	svc := user.NewUserService(store, user.BcryptHasher{Cost: senv.BcryptCost}, sugar)
	handler := user.NewHandler(svc, sugar)

	lis, err := net.Listen("tcp", senv.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", senv.GRPCAddr, err)
	}
	grpcServer := rpc.NewServer(lis, handler, sugar)
	grpcDone := make(chan error, 1)
	go func() { grpcDone <- grpcServer.Serve(ctx) }()

	srv := &http.Server{
		Addr:              senv.HTTPAddr,
		Handler:           router.RegisterRoutes(sugar, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpDone := make(chan error, 1)
	go func() {
		sugar.Infow("http server listening", "addr", senv.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpDone <- err
			return
		}
		httpDone <- nil
	}()

	sugar.Info("service is running; press Ctrl+C to stop")

	var runErr error
	grpcStopped := false
	select {
	case <-ctx.Done():
	case runErr = <-httpDone:
		stop()
	case runErr = <-grpcDone:
		grpcStopped = true
		stop()
	}

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	if !grpcStopped {
		if err := <-grpcDone; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
