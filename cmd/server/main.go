package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thereceipt/escpos-bridge/internal/api"
	"github.com/thereceipt/escpos-bridge/internal/config"
	"github.com/thereceipt/escpos-bridge/internal/logging"
	"github.com/thereceipt/escpos-bridge/internal/printer"
	"github.com/thereceipt/escpos-bridge/internal/workerpool"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", getConfigPath(), "Path to YAML configuration")
	port := flag.Int("port", 0, "Override the HTTP port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	gin.SetMode(gin.ReleaseMode)

	pool := workerpool.New(cfg.Pool.MaxWorkers, cfg.Pool.IdleTimeout, logger.Named("pool"))
	service := printer.NewService(&cfg.Printer, logger.Named("printer"), printer.WithPool(pool))
	server := api.NewServer(service, logger.Named("api"))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info("starting API server",
			zap.String("addr", httpServer.Addr),
			zap.String("version", Version),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	// In-flight operations are bounded by their own deadlines
	pool.Close()
	logger.Info("stopped")
}

// getConfigPath returns the config file from ESCPOS_CONFIG, or config.yaml
// in the working directory
func getConfigPath() string {
	if path := os.Getenv("ESCPOS_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}
