package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cowrite/cowrite/internal/api"
	"github.com/cowrite/cowrite/pkg/database"
	"github.com/cowrite/cowrite/pkg/logger"
	"github.com/cowrite/cowrite/pkg/registry"
)

// config holds all server configuration, sourced entirely from the
// environment so the binary needs no flags.
type config struct {
	Port                string
	ExpiryDays           int
	SQLiteURI            string
	CleanupInterval      time.Duration
	MaxDocumentSizeBytes int
	WSReadTimeout        time.Duration
	WSWriteTimeout       time.Duration
	BroadcastBufferSize  int
	LogLevel             logger.Level
	MetricsEnabled       bool
}

func loadConfig() config {
	return config{
		Port:                 getEnv("PORT", "3030"),
		ExpiryDays:           getEnvInt("EXPIRY_DAYS", 1),
		SQLiteURI:            os.Getenv("SQLITE_URI"),
		CleanupInterval:      time.Duration(getEnvInt("CLEANUP_INTERVAL_HOURS", 1)) * time.Hour,
		MaxDocumentSizeBytes: getEnvInt("MAX_DOCUMENT_SIZE_KB", 256) * 1024,
		WSReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MINUTES", 30)) * time.Minute,
		WSWriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		BroadcastBufferSize:  getEnvInt("BROADCAST_BUFFER_SIZE", 16),
		LogLevel:             logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:       getEnvBool("METRICS_ENABLED", true),
	}
}

func main() {
	cfg := loadConfig()
	log := logger.New(cfg.LogLevel)

	log.Info("starting cowrite", "port", cfg.Port, "expiry_days", cfg.ExpiryDays)

	var db *database.Database
	if cfg.SQLiteURI != "" {
		var err error
		db, err = database.New(cfg.SQLiteURI)
		if err != nil {
			log.Error("open database", "uri", cfg.SQLiteURI, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		log.Info("persistence enabled", "uri", cfg.SQLiteURI)
	} else {
		log.Info("persistence disabled: SQLITE_URI unset")
	}

	reg := registry.New(db, cfg.MaxDocumentSizeBytes, cfg.BroadcastBufferSize, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reg.StartJanitor(ctx, cfg.CleanupInterval, time.Duration(cfg.ExpiryDays)*24*time.Hour)

	router := api.NewRouter(&api.Dependencies{
		Registry:       reg,
		DB:             db,
		Log:            log,
		Ctx:            ctx,
		StartTime:      time.Now(),
		ReadTimeout:    cfg.WSReadTimeout,
		WriteTimeout:   cfg.WSWriteTimeout,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-sigChan:
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped unexpectedly", "error", err)
		}
		return
	}

	cancel()
	reg.KillAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
