package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourname/viewpulse/internal/config"
	"github.com/yourname/viewpulse/internal/core"
	httpapi "github.com/yourname/viewpulse/internal/http"
	"github.com/yourname/viewpulse/internal/store"
)

func main() {
	// Fast JSON logs by default; pretty if running in a TTY/dev
	if isatty() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	cfg := config.Load()

	var dsnFlag string
	flag.StringVar(&dsnFlag, "dsn", "", "SQLite DSN (overrides env DB_DSN; empty env selects in-memory)")
	flag.Parse()
	if dsnFlag != "" {
		cfg.DBDSN = dsnFlag
	}

	var (
		st store.Store
		db *sql.DB
	)
	if cfg.DBDSN != "" {
		var err error
		db, err = sql.Open("sqlite3", cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open sqlite")
		}
		defer db.Close()

		// Connection pool tuning
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Migrate schema
		if err := store.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("migrate schema")
		}
		st = store.NewSQLite(db)
	} else {
		log.Warn().Msg("no DB_DSN configured, counts are held in memory only")
		st = store.NewMemory()
	}

	svc := core.NewService(st)

	settings, err := st.LoadSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("load settings")
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if settings.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Internal maintenance loop unless an external cron drives the
	// token-authenticated endpoints.
	var sched *core.Scheduler
	if !settings.ExternalScheduler {
		sched = core.NewScheduler(svc,
			settings.BufferTimeout(),
			time.Duration(cfg.TrendingIntervalSec)*time.Second)
		sched.Start()
	} else {
		log.Info().Msg("external scheduler configured, internal maintenance loop disabled")
	}

	// HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpapi.NewRouter(cfg, svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	if sched != nil {
		sched.Stop()
	}
	// Write out whatever is still buffered so a clean stop loses nothing.
	if _, err := svc.ForceFlush(); err != nil {
		log.Error().Err(err).Msg("final flush")
	}
	log.Info().Msg("bye")
}

func isatty() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
