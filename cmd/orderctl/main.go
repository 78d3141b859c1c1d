// Command orderctl prints an order's fulfillment document.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront-orders/internal/adapter/report"
	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/config"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML config file")
	locale := flag.String("locale", "", "number formatting locale (defaults to log.locale)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: orderctl [flags] <order-id>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *locale, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "orderctl: %v\n", err)
		if errors.Is(err, service.ErrOrderNotFound) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(configPath, locale, orderID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if locale == "" {
		locale = cfg.Log.Locale
	}
	renderer, err := report.NewRenderer(cfg.Orders.Currency, locale)
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orders, err := service.NewOrderService(service.OrderServiceDeps{
		Store:    storage.NewMySQLAdapter(db),
		Currency: cfg.Orders.Currency,
	})
	if err != nil {
		return err
	}
	view, err := orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return renderer.Render(os.Stdout, view)
}
