package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tenderdesk/procurement-backend/internal/approvals"
	"tenderdesk/procurement-backend/internal/config"
)

const scanTimeout = 30 * time.Second

// OverdueWorker periodically scans for approval requests that have
// passed their due date and flags them for follow-up.
type OverdueWorker struct {
	monitor *approvals.OverdueMonitor
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewOverdueWorker creates a new overdue worker
func NewOverdueWorker(monitor *approvals.OverdueMonitor, logger *zap.Logger) *OverdueWorker {
	return &OverdueWorker{
		monitor: monitor,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
	}
}

// Start schedules the scan and blocks until the context is cancelled.
func (w *OverdueWorker) Start(ctx context.Context, cronSpec string) error {
	_, err := w.cron.AddFunc(cronSpec, func() {
		scanCtx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()

		overdue, err := w.monitor.Scan(scanCtx)
		if err != nil {
			w.logger.Error("Overdue scan failed", zap.Error(err))
			return
		}
		if len(overdue) > 0 {
			w.logger.Info("Overdue scan complete", zap.Int("overdue_requests", len(overdue)))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule overdue scan: %w", err)
	}

	w.logger.Info("Overdue worker starting", zap.String("cron", cronSpec))
	w.cron.Start()

	<-ctx.Done()

	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.logger.Info("Overdue worker stopped")
	return nil
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	logger.Info("Connected to database")

	repo := approvals.NewPostgresRepository(db)
	monitor := approvals.NewOverdueMonitor(repo, logger)
	worker := NewOverdueWorker(monitor, logger)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := worker.Start(ctx, cfg.Overdue.CronSpec); err != nil {
		logger.Error("Worker error", zap.Error(err))
	}
}
