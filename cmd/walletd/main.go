// walletd is the health-certificate wallet daemon. main wires dependencies
// and owns the process lifecycle; business logic lives in internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greenwallet/internal/crypto"
	"greenwallet/internal/identity"
	"greenwallet/internal/intake"
	"greenwallet/internal/issuance"
	"greenwallet/internal/platform/config"
	"greenwallet/internal/platform/httpserver"
	"greenwallet/internal/platform/logger"
	"greenwallet/internal/platform/metrics"
	"greenwallet/internal/reachability"
	"greenwallet/internal/refresh"
	"greenwallet/internal/scheduler"
	"greenwallet/internal/securestorage"
	"greenwallet/internal/transport/api"
	"greenwallet/internal/transport/rest"
	"greenwallet/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	store, cleanup, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open wallet store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	secrets := securestorage.NewInMemoryStore()
	cryptoManager := crypto.NewHMACManager()

	tokens := api.NewStaticTokenSource(cfg.BackendToken, nil)
	client := api.New(cfg.BackendBaseURL,
		api.WithTokenSource(tokens),
		api.WithLogger(log),
	)

	loader := issuance.NewLoader(client, cryptoManager, store, secrets,
		issuance.WithLogger(log),
		issuance.WithMetrics(m),
	)

	matcher := identity.NewMatcher(identity.WithLogger(log))
	intakeService := intake.NewService(store, secrets, cryptoManager, matcher,
		intake.WithLogger(log),
		intake.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Prune before the refresher classifies: expired cards must not count
	// toward the refresh deadline.
	expired, err := intakeService.RemoveExpiredWalletData(ctx, cfg.EventGroupRetention)
	if err != nil {
		log.Error("startup wallet maintenance failed", "error", err)
	} else if len(expired) > 0 {
		log.Info("pruned expired green cards at startup", "cards", len(expired))
	}

	monitor := reachability.NewMonitor()
	monitor.Set(true)

	refresher := refresh.NewRefresher(ctx, store, loader, monitor,
		cfg.CredentialRefreshThresholdDays,
		refresh.WithLogger(log),
		refresh.WithMetrics(m),
		refresh.WithScheduler(scheduler.NewTimerScheduler(time.Now)),
	)
	defer refresher.Close()
	refresher.Resume(ctx)

	handler := rest.New(store, secrets, intakeService, loader, refresher, log, m)

	router := chi.NewRouter()
	handler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting walletd",
			"addr", cfg.Addr,
			"store", cfg.StoreBackend,
			"backend", cfg.BackendBaseURL,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	refresher.Suspend()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// openStore builds the configured persistence backend and a cleanup for it.
func openStore(cfg config.Config) (wallet.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return wallet.NewInMemoryStore(), func() {}, nil
	case "leveldb":
		store, err := wallet.NewLevelDBStore(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := wallet.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	default:
		return nil, nil, errors.New("unknown store backend: " + cfg.StoreBackend)
	}
}
