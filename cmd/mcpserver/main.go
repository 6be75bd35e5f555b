package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vizulabs-com/vizpilot-mcp/internal/engine"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/database"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

var storeDBPassword = flag.Bool("store-db-password", false,
	"Store POSTGRES_PASSWORD in the OS keyring and exit")

func main() {
	flag.Parse()

	cfg := config.Load()

	log := logger.New(cfg.ServerName, cfg.ServerVersion)
	log.SetLevel(cfg.LogLevel)

	if *storeDBPassword {
		if cfg.PostgresPassword == "" {
			log.Fatalf("POSTGRES_PASSWORD must be set to provision the keyring")
		}
		if err := database.StoreKeyringPassword(cfg.PostgresPassword); err != nil {
			log.Fatalf("Failed to store database password: %v", err)
		}
		log.Info("Database password stored in keyring")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, log)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
}
