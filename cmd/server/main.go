// Package main is the entry point for the cash management engine. The
// engine watches a portfolio of savings accounts, audits deposit
// protection exposure, and recommends fund movements that improve
// returns without breaching protection ceilings.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dfpersonal/cash-management/internal/config"
	"github.com/dfpersonal/cash-management/internal/database"
	"github.com/dfpersonal/cash-management/internal/events"
	"github.com/dfpersonal/cash-management/internal/modules/planning"
	"github.com/dfpersonal/cash-management/internal/modules/portfolio"
	"github.com/dfpersonal/cash-management/internal/modules/products"
	"github.com/dfpersonal/cash-management/internal/modules/rules"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
	"github.com/dfpersonal/cash-management/internal/modules/snapshots"
	"github.com/dfpersonal/cash-management/internal/scheduler"
	"github.com/dfpersonal/cash-management/internal/server"
	"github.com/dfpersonal/cash-management/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting cash management engine")

	openDB := func(name string, profile database.DatabaseProfile) *database.DB {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			log.Fatal().Err(err).Str("database", name).Msg("Failed to open database")
		}
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", name).Msg("Failed to migrate database")
		}
		return db
	}

	portfolioDB := openDB("portfolio", database.ProfileStandard)
	defer portfolioDB.Close()
	configDB := openDB("config", database.ProfileStandard)
	defer configDB.Close()
	cacheDB := openDB("cache", database.ProfileCache)
	defer cacheDB.Close()

	bus := events.NewBus(log)
	recs := planning.NewRecommendationRepository(cacheDB.Conn(), log)
	snaps := snapshots.NewStore(cacheDB.Conn(), log)

	planner := planning.NewService(
		settings.NewRepository(configDB.Conn(), log),
		settings.NewPreferenceRepository(configDB.Conn(), log),
		rules.NewRepository(configDB.Conn(), log),
		portfolio.NewRepository(portfolioDB.Conn(), log),
		products.NewRepository(portfolioDB.Conn(), log),
		recs,
		snaps,
		bus,
		log,
	)

	if cfg.AuditOnStart {
		report, err := planner.ComplianceReport(true)
		if err != nil {
			log.Error().Err(err).Msg("Startup compliance audit failed")
		} else {
			log.Info().
				Int("institutions", len(report.Institutions)).
				Int("breaches", len(report.Breaches)).
				Int("warnings", len(report.Warnings)).
				Msg("Startup compliance audit completed")
		}
	}

	srv := server.New(server.Config{
		Log:         log,
		Config:      cfg,
		PortfolioDB: portfolioDB,
		ConfigDB:    configDB,
		CacheDB:     cacheDB,
		Planner:     planner,
		Recs:        recs,
		Snaps:       snaps,
		Bus:         bus,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sched := scheduler.New(log)
	maintenance := scheduler.NewMaintenanceJob(map[string]*database.DB{
		"portfolio": portfolioDB,
		"config":    configDB,
		"cache":     cacheDB,
	}, cfg.DataDir, log)
	if err := sched.AddJob("0 2 * * *", maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}
	if cfg.RunSchedule != "" {
		job := scheduler.NewOptimizationJob(planner, cfg.DefaultMode, log)
		if err := sched.AddJob(cfg.RunSchedule, job); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.RunSchedule).Msg("Invalid run schedule")
		}
	}
	if cfg.AuditSchedule != "" {
		job := scheduler.NewComplianceAuditJob(planner, log)
		if err := sched.AddJob(cfg.AuditSchedule, job); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.AuditSchedule).Msg("Invalid audit schedule")
		}
	}
	sched.Start()
	defer sched.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
