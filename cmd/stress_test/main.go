// Command stress_test fires concurrent checkouts at one scarce product and
// checks that stock never oversells.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

const (
	defaultDSN = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	productID  = "stress-item"
	customerNS = "stress-customer-"
)

func main() {
	dsn := flag.String("dsn", envOr("MYSQL_DSN", defaultDSN), "MySQL DSN")
	initialStock := flag.Int("stock", 20, "units available before the run")
	totalRequests := flag.Int("requests", 50, "concurrent checkouts, one unit each")
	flag.Parse()

	ctx := context.Background()

	gdb, err := gorm.Open(gormmysql.Open(*dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	if err := storage.Migrate(ctx, gdb); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	if err := reset(ctx, gdb, *initialStock, *totalRequests); err != nil {
		log.Fatalf("failed to reset test data: %v", err)
	}

	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)

	orderService, err := service.NewOrderService(service.OrderServiceDeps{
		Store:           storage.NewMySQLAdapter(db),
		ConflictRetries: 5,
	})
	if err != nil {
		log.Fatalf("failed to build order service: %v", err)
	}

	var (
		successCount  atomic.Int32
		soldOutCount  atomic.Int32
		conflictCount atomic.Int32
		otherCount    atomic.Int32
		wg            sync.WaitGroup
	)
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			customer := fmt.Sprintf("%s%d", customerNS, n)
			_, err := orderService.Checkout(ctx, service.OnlineCheckoutRequest{
				CustomerID: customer,
				AddressID:  "addr-" + customer,
				Items:      []service.OrderItem{{ProductID: productID, Quantity: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrInsufficientStock):
				soldOutCount.Add(1)
			case errors.Is(err, service.ErrTransactionConflict):
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("checkout %s: %v", customer, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	var finalStock int
	if err := gdb.WithContext(ctx).Model(&storage.ProductRow{}).
		Where("id = ?", productID).Select("stock").Scan(&finalStock).Error; err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	success := int(successCount.Load())
	expected := min(*initialStock, *totalRequests)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Initial stock", fmt.Sprint(*initialStock)},
		{"Requests", fmt.Sprint(*totalRequests)},
		{"Placed", fmt.Sprint(success)},
		{"Sold out", fmt.Sprint(soldOutCount.Load())},
		{"Conflicts", fmt.Sprint(conflictCount.Load())},
		{"Other errors", fmt.Sprint(otherCount.Load())},
		{"Final stock", fmt.Sprint(finalStock)},
		{"Duration", elapsed.Round(time.Millisecond).String()},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			log.Fatalf("render: %v", err)
		}
	}
	if err := table.Render(); err != nil {
		log.Fatalf("render: %v", err)
	}

	failed := false
	if success+int(conflictCount.Load()) < expected || success > expected {
		fmt.Printf("FAIL: expected %d placed orders, got %d\n", expected, success)
		failed = true
	}
	if finalStock != *initialStock-success {
		fmt.Printf("FAIL: stock %d does not match %d placed orders\n", finalStock, success)
		failed = true
	}
	if finalStock < 0 {
		fmt.Println("FAIL: stock went negative")
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("PASS: no oversell, stock matches placed orders")
}

// reset restores the product's stock and gives every synthetic customer a
// fresh address with no open orders.
func reset(ctx context.Context, db *gorm.DB, stock, customers int) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM order_lines WHERE product_id = ?", productID).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM orders WHERE customer_id LIKE ?", customerNS+"%").Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM inventory_movements WHERE product_id = ?", productID).Error; err != nil {
			return err
		}

		product := storage.ProductRow{
			ID:        productID,
			Name:      "Stress test item",
			Price:     decimal.RequireFromString("1.00"),
			Stock:     stock,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Save(&product).Error; err != nil {
			return err
		}

		addresses := make([]storage.AddressRow, 0, customers)
		for i := 0; i < customers; i++ {
			customer := fmt.Sprintf("%s%d", customerNS, i)
			addresses = append(addresses, storage.AddressRow{
				ID:         "addr-" + customer,
				CustomerID: &customer,
				Recipient:  customer,
				Line1:      "Stress Test 1",
				City:       "CDMX",
				Country:    "MX",
				CreatedAt:  now,
			})
		}
		return storage.Seed(ctx, tx, nil, addresses)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
