package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Table models. The MySQL adapter issues plain SQL against these tables;
// gorm is only used to create and seed them.

type ProductRow struct {
	ID          string              `gorm:"primaryKey;type:varchar(36)"`
	Name        string              `gorm:"type:varchar(255);not null"`
	Price       decimal.Decimal     `gorm:"type:decimal(12,2);not null"`
	PromoPrice  decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	OnPromotion bool                `gorm:"not null;default:false"`
	Stock       int                 `gorm:"not null;default:0;check:chk_products_stock,stock >= 0"`
	MinStock    int                 `gorm:"not null;default:0"`
	Version     int                 `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProductRow) TableName() string { return "products" }

type AddressRow struct {
	ID         string  `gorm:"primaryKey;type:varchar(36)"`
	CustomerID *string `gorm:"type:varchar(64);index"`
	Recipient  string  `gorm:"type:varchar(255);not null"`
	Line1      string  `gorm:"type:varchar(255);not null"`
	Line2      string  `gorm:"type:varchar(255);not null;default:''"`
	City       string  `gorm:"type:varchar(128);not null"`
	State      string  `gorm:"type:varchar(128);not null;default:''"`
	PostalCode string  `gorm:"type:varchar(32);not null;default:''"`
	Country    string  `gorm:"type:varchar(64);not null;default:''"`
	Phone      string  `gorm:"type:varchar(64);not null;default:''"`
	Manual     bool    `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

func (AddressRow) TableName() string { return "addresses" }

type OrderRow struct {
	ID                string          `gorm:"primaryKey;type:varchar(36)"`
	SequenceNumber    string          `gorm:"type:varchar(32);not null;uniqueIndex:uniq_orders_sequence"`
	Source            string          `gorm:"type:varchar(16);not null"`
	CustomerID        *string         `gorm:"type:varchar(64);index:idx_orders_customer_open,priority:1"`
	CustomerName      string          `gorm:"type:varchar(255);not null;default:''"`
	CustomerEmail     string          `gorm:"type:varchar(255);not null;default:''"`
	CustomerPhone     string          `gorm:"type:varchar(64);not null;default:''"`
	AddressID         string          `gorm:"type:varchar(36);not null"`
	Subtotal          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Tax               decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Shipping          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Total             decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	FulfillmentStatus string          `gorm:"type:varchar(16);not null;index:idx_orders_customer_open,priority:2"`
	PaymentStatus     string          `gorm:"type:varchar(16);not null;index:idx_orders_customer_open,priority:3"`
	PaymentReference  string          `gorm:"type:varchar(255);not null;default:''"`
	// OpenCustomerKey holds the customer id while an online order is open and
	// NULL otherwise, so the unique index admits one open order per customer.
	OpenCustomerKey *string   `gorm:"type:varchar(64);uniqueIndex:uniq_orders_open_customer"`
	CreatedAt       time.Time `gorm:"index:idx_orders_customer_open,priority:4"`
	UpdatedAt       time.Time
	Lines           []OrderLineRow `gorm:"foreignKey:OrderID"`
}

func (OrderRow) TableName() string { return "orders" }

type OrderLineRow struct {
	ID              string              `gorm:"primaryKey;type:varchar(36)"`
	OrderID         string              `gorm:"type:varchar(36);not null;index"`
	ProductID       string              `gorm:"type:varchar(36);not null;index"`
	ProductName     string              `gorm:"type:varchar(255);not null"`
	Quantity        int                 `gorm:"not null"`
	UnitPrice       decimal.Decimal     `gorm:"type:decimal(12,2);not null"`
	Subtotal        decimal.Decimal     `gorm:"type:decimal(12,2);not null"`
	OnPromotion     bool                `gorm:"not null;default:false"`
	RegularPrice    decimal.Decimal     `gorm:"type:decimal(12,2);not null"`
	PromoPrice      decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	DiscountPercent int                 `gorm:"not null;default:0"`
}

func (OrderLineRow) TableName() string { return "order_lines" }

type MovementRow struct {
	ID        string    `gorm:"primaryKey;type:char(26)"`
	ProductID string    `gorm:"type:varchar(36);not null;index:idx_movements_product,priority:1"`
	Direction string    `gorm:"type:varchar(8);not null"`
	Quantity  int       `gorm:"not null"`
	Reason    string    `gorm:"type:varchar(255);not null"`
	ActorID   string    `gorm:"type:varchar(64);not null"`
	OrderID   *string   `gorm:"type:varchar(36);index"`
	CreatedAt time.Time `gorm:"index:idx_movements_product,priority:2"`
}

func (MovementRow) TableName() string { return "inventory_movements" }

// Migrate creates or updates every table the order core uses.
func Migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&ProductRow{},
		&AddressRow{},
		&OrderRow{},
		&OrderLineRow{},
		&MovementRow{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Seed upserts catalog rows, leaving existing rows untouched.
func Seed(ctx context.Context, db *gorm.DB, products []ProductRow, addresses []AddressRow) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(products) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error; err != nil {
				return fmt.Errorf("seed products: %w", err)
			}
		}
		if len(addresses) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&addresses).Error; err != nil {
				return fmt.Errorf("seed addresses: %w", err)
			}
		}
		return nil
	})
}

// DemoCatalog is the sample data loaded by the migrate command's -seed flag.
func DemoCatalog(now time.Time) ([]ProductRow, []AddressRow) {
	customer := "demo-customer"
	products := []ProductRow{
		{ID: "prod-coffee", Name: "Coffee beans 1kg", Price: decimal.RequireFromString("10.00"), Stock: 100, MinStock: 10, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-mug", Name: "Ceramic mug", Price: decimal.RequireFromString("8.00"), PromoPrice: decimal.NewNullDecimal(decimal.RequireFromString("5.00")), OnPromotion: true, Stock: 50, MinStock: 5, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-grinder", Name: "Hand grinder", Price: decimal.RequireFromString("45.50"), Stock: 3, MinStock: 5, CreatedAt: now, UpdatedAt: now},
	}
	addresses := []AddressRow{
		{ID: "addr-demo", CustomerID: &customer, Recipient: "Demo Customer", Line1: "Av. Reforma 100", City: "CDMX", State: "CDMX", PostalCode: "06600", Country: "MX", Phone: "+52 55 0000 0000", CreatedAt: now},
	}
	return products, addresses
}
