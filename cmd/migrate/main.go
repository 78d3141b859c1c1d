// Command migrate creates the order tables and optionally loads the demo
// catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/config"
	"github.com/rl1809/storefront-orders/internal/platform/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML config file")
	seed := flag.Bool("seed", false, "load the demo catalog after migrating")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := gorm.Open(gormmysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatal("connect mysql", zap.Error(err))
	}

	if err := storage.Migrate(ctx, db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	logger.Info("schema up to date")

	if !*seed {
		return
	}
	products, addresses := storage.DemoCatalog(time.Now().UTC())
	if err := storage.Seed(ctx, db, products, addresses); err != nil {
		logger.Fatal("seed", zap.Error(err))
	}
	logger.Info("demo catalog loaded", zap.Int("products", len(products)), zap.Int("addresses", len(addresses)))
}
