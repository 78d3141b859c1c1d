package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

// Wire shapes shared by the HTTP and gRPC transports. Money travels as
// fixed two-decimal strings.

type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	CustomerID    string        `json:"customer_id,omitempty"`
	AddressID     string        `json:"address_id"`
	Items         []ItemRequest `json:"items"`
	DeclaredTotal string        `json:"declared_total,omitempty"`
}

type ManualOrderRequest struct {
	StaffID  string         `json:"staff_id,omitempty"`
	Customer ManualCustomer `json:"customer"`
	Address  ManualAddress  `json:"address"`
	Items    []ItemRequest  `json:"items"`
}

type ManualCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type ManualAddress struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
	ActorID string `json:"actor_id,omitempty"`
	Staff   bool   `json:"staff,omitempty"`
}

type AdvanceFulfillmentRequest struct {
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
	StaffID string `json:"staff_id,omitempty"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	Staff   bool   `json:"staff,omitempty"`
	Restock bool   `json:"restock"`
	Reason  string `json:"reason,omitempty"`
}

type RecordPaymentRequest struct {
	OrderID   string `json:"order_id,omitempty"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	StaffID   string `json:"staff_id,omitempty"`
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type SetStockRequest struct {
	Quantity        int    `json:"quantity"`
	ExpectedVersion int    `json:"expected_version"`
	Reason          string `json:"reason"`
}

type OrderResponse struct {
	ID                string          `json:"id"`
	SequenceNumber    string          `json:"sequence_number"`
	Source            string          `json:"source"`
	CustomerID        string          `json:"customer_id,omitempty"`
	CustomerName      string          `json:"customer_name,omitempty"`
	CustomerEmail     string          `json:"customer_email,omitempty"`
	CustomerPhone     string          `json:"customer_phone,omitempty"`
	Subtotal          string          `json:"subtotal"`
	Tax               string          `json:"tax"`
	Shipping          string          `json:"shipping"`
	Total             string          `json:"total"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	PaymentStatus     string          `json:"payment_status"`
	PaymentReference  string          `json:"payment_reference,omitempty"`
	Lines             []LineResponse  `json:"lines"`
	Address           *AddressPayload `json:"address,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type LineResponse struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	Quantity        int    `json:"quantity"`
	UnitPrice       string `json:"unit_price"`
	Subtotal        string `json:"subtotal"`
	OnPromotion     bool   `json:"on_promotion"`
	RegularPrice    string `json:"regular_price"`
	PromoPrice      string `json:"promo_price,omitempty"`
	DiscountPercent int    `json:"discount_percent,omitempty"`
}

type AddressPayload struct {
	ID         string `json:"id"`
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Manual     bool   `json:"manual"`
}

type ProductResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Price       string    `json:"price"`
	PromoPrice  string    `json:"promo_price,omitempty"`
	OnPromotion bool      `json:"on_promotion"`
	Stock       int       `json:"stock"`
	MinStock    int       `json:"min_stock"`
	Version     int       `json:"version"`
	LowStock    bool      `json:"low_stock"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type MovementResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Direction string    `json:"direction"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
	ActorID   string    `json:"actor_id"`
	OrderID   string    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentIntentResponse struct {
	OrderID      string `json:"order_id"`
	Reference    string `json:"reference"`
	ClientSecret string `json:"client_secret"`
}

func toItems(in []ItemRequest) []service.OrderItem {
	items := make([]service.OrderItem, 0, len(in))
	for _, item := range in {
		items = append(items, service.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}

func (r ManualOrderRequest) toService() service.ManualOrderRequest {
	return service.ManualOrderRequest{
		StaffID: r.StaffID,
		Customer: service.ManualCustomer{
			Name:  r.Customer.Name,
			Email: r.Customer.Email,
			Phone: r.Customer.Phone,
		},
		Address: service.ManualAddress{
			Recipient:  r.Address.Recipient,
			Line1:      r.Address.Line1,
			Line2:      r.Address.Line2,
			City:       r.Address.City,
			State:      r.Address.State,
			PostalCode: r.Address.PostalCode,
			Country:    r.Address.Country,
			Phone:      r.Address.Phone,
		},
		Items: toItems(r.Items),
	}
}

func toOrderResponse(view *domain.OrderView) *OrderResponse {
	resp := &OrderResponse{
		ID:                view.ID,
		SequenceNumber:    view.SequenceNumber,
		Source:            string(view.Source),
		CustomerID:        view.CustomerID,
		CustomerName:      view.CustomerName,
		CustomerEmail:     view.CustomerEmail,
		CustomerPhone:     view.CustomerPhone,
		Subtotal:          money(view.Subtotal),
		Tax:               money(view.Tax),
		Shipping:          money(view.Shipping),
		Total:             money(view.Total),
		FulfillmentStatus: string(view.FulfillmentStatus),
		PaymentStatus:     string(view.PaymentStatus),
		PaymentReference:  view.PaymentReference,
		Lines:             make([]LineResponse, 0, len(view.Lines)),
		CreatedAt:         view.CreatedAt,
		UpdatedAt:         view.UpdatedAt,
	}
	for _, line := range view.Lines {
		lr := LineResponse{
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			Quantity:     line.Quantity,
			UnitPrice:    money(line.UnitPrice),
			Subtotal:     money(line.Subtotal),
			OnPromotion:  line.Promotion.OnPromotion,
			RegularPrice: money(line.Promotion.RegularPrice),
		}
		if line.Promotion.OnPromotion {
			lr.PromoPrice = money(line.Promotion.PromoPrice)
			lr.DiscountPercent = line.Promotion.DiscountPercent
		}
		resp.Lines = append(resp.Lines, lr)
	}
	if a := view.Address; a != nil {
		resp.Address = &AddressPayload{
			ID:         a.ID,
			Recipient:  a.Recipient,
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
			Phone:      a.Phone,
			Manual:     a.Manual,
		}
	}
	return resp
}

func toProductResponse(p *domain.Product) *ProductResponse {
	resp := &ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Price:       money(p.Price),
		OnPromotion: p.OnPromotion,
		Stock:       p.Stock,
		MinStock:    p.MinStock,
		Version:     p.Version,
		LowStock:    p.LowStock(),
		UpdatedAt:   p.UpdatedAt,
	}
	if p.PromoPrice.Valid {
		resp.PromoPrice = money(p.PromoPrice.Decimal)
	}
	return resp
}

func toMovementResponses(movements []domain.InventoryMovement) []MovementResponse {
	out := make([]MovementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, MovementResponse{
			ID:        m.ID,
			ProductID: m.ProductID,
			Direction: string(m.Direction),
			Quantity:  m.Quantity,
			Reason:    m.Reason,
			ActorID:   m.ActorID,
			OrderID:   m.OrderID,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// parseDeclaredTotal treats an empty value as absent.
func parseDeclaredTotal(raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
