package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/config"
	httptransport "github.com/example/mess-attendance/internal/http"
	"github.com/example/mess-attendance/internal/jobs"
	"github.com/example/mess-attendance/internal/logging"
	"github.com/example/mess-attendance/internal/metrics"
	"github.com/example/mess-attendance/internal/persistence"
	"github.com/example/mess-attendance/internal/persistence/memory"
	"github.com/example/mess-attendance/internal/persistence/sqlite"
	"github.com/example/mess-attendance/internal/qrtoken"
)

func main() {
	bootstrap := logging.New(os.Stdout, false)
	if err := loadDotEnv(".env"); err != nil {
		bootstrap.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// loadDotEnv populates the environment from the given files. Missing files are
// ignored and variables already set win.
func loadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   persistence.Store
	handler http.Handler
	workers []func(context.Context)
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		m              *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	signer, err := qrtoken.NewSigner([]byte(cfg.QR.Secret), cfg.QR.KeyID, qrtoken.WithRotation(cfg.QR.Rotation))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("qr signer: %w", err)
	}

	sysClock := clock.System{}
	rt := application.Runtime{Clock: sysClock, Location: cfg.Location, Logger: logger}

	schedule := application.NewMealScheduleService(store, rt)
	subscriptions := application.NewSubscriptionService(store, store, rt)
	confirmations := application.NewConfirmationService(application.ConfirmationDeps{
		Confirmations: store,
		Fines:         store,
		Users:         store,
		Schedule:      schedule,
		Coverage:      subscriptions,
	}, rt)
	attendance := application.NewAttendanceService(application.AttendanceDeps{
		Signer:        signer,
		Schedule:      schedule,
		Coverage:      subscriptions,
		Confirmations: store,
		Bookings:      store,
		Users:         store,
		BookingGrace:  cfg.QR.BookingGrace,
	}, rt)
	fines := application.NewFineService(application.FineDeps{
		Fines:         store,
		Confirmations: store,
		Users:         store,
		Ledger:        store,
		Schedule:      schedule,
		Threshold:     cfg.Fines.Threshold,
	}, rt)
	users := application.NewUserService(store, rt)

	if cfg.Seed.DefaultSchedule {
		if _, err := schedule.SeedDefaults(ctx, cfg.Seed.MealCost); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed default schedule: %w", err)
		}
	}

	today := func() civil.Date { return clock.Today(sysClock, cfg.Location) }
	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Meals:          httptransport.NewMealHandler(schedule, today, logger),
		Confirmations:  httptransport.NewConfirmationHandler(confirmations, today, logger),
		QR:             httptransport.NewQRHandler(attendance, m, logger),
		Fines:          httptransport.NewFineHandler(fines, logger),
		Subscriptions:  httptransport.NewSubscriptionHandler(subscriptions, today, logger),
		Users:          httptransport.NewUserHandler(users, logger),
		ScanLimiter:    httptransport.NewScanLimiter(cfg.Scan.RatePerSecond, cfg.Scan.Burst, 0),
		Metrics:        m,
		MetricsHandler: metricsHandler,
		Health:         healthCheck(store),
		Logger:         logger,
	})

	freezer := jobs.NewFreezeEngine(schedule, confirmations, jobs.FreezeConfig{
		Interval:     cfg.Freeze.Interval,
		InitialDelay: cfg.Freeze.InitialDelay,
		Logger:       logger,
		Metrics:      m,
	})
	fineScheduler := jobs.NewFineScheduler(schedule, fines, jobs.FineConfig{
		Delay:   cfg.Fines.Delay,
		Logger:  logger,
		Metrics: m,
	})
	sweeper := jobs.NewSubscriptionSweeper(subscriptions, cfg.SweepInterval, logger, m)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		handler: handler,
		workers: []func(context.Context){freezer.Run, fineScheduler.Run, sweeper.Run},
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (persistence.Store, error) {
	if cfg.StorageDriver == config.StorageMemory {
		return memory.New(), nil
	}
	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return storage, nil
}

func healthCheck(store persistence.Store) func(context.Context) error {
	pinger, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping
}

// RunWorkers runs the background jobs until ctx is cancelled.
func (a *app) RunWorkers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, worker := range a.workers {
		worker := worker
		g.Go(func() error {
			worker(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Serve runs the HTTP server and the background jobs until ctx is cancelled.
func (a *app) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunWorkers(gctx) })
	g.Go(func() error {
		a.logger.Info("mess attendance API listening", "addr", server.Addr, "storage", a.cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("failed to shutdown server", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close storage", "error", err)
	}
}
