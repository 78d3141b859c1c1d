package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderRequest is either an OnlineCheckoutRequest or a ManualOrderRequest.
type OrderRequest interface {
	orderRequest()
}

type OrderItem struct {
	ProductID string
	Quantity  int
}

// OnlineCheckoutRequest is a customer's cart submission.
type OnlineCheckoutRequest struct {
	CustomerID    string
	AddressID     string
	Items         []OrderItem
	DeclaredTotal decimal.NullDecimal
}

// ManualOrderRequest is a sale keyed in by staff with inline customer and
// address data.
type ManualOrderRequest struct {
	StaffID  string
	Customer ManualCustomer
	Address  ManualAddress
	Items    []OrderItem
}

type ManualCustomer struct {
	Name  string
	Email string
	Phone string
}

type ManualAddress struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

func (OnlineCheckoutRequest) orderRequest() {}
func (ManualOrderRequest) orderRequest()    {}

func (r OnlineCheckoutRequest) validate() ([]OrderItem, error) {
	if strings.TrimSpace(r.CustomerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.AddressID) == "" {
		return nil, fmt.Errorf("%w: address id is required", ErrInvalidRequest)
	}
	return normalizeItems(r.Items)
}

func (r ManualOrderRequest) validate() ([]OrderItem, error) {
	if strings.TrimSpace(r.StaffID) == "" {
		return nil, fmt.Errorf("%w: staff id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Address.Line1) == "" || strings.TrimSpace(r.Address.City) == "" {
		return nil, fmt.Errorf("%w: address line1 and city are required", ErrInvalidRequest)
	}
	return normalizeItems(r.Items)
}

// normalizeItems rejects empty carts and non-positive quantities and merges
// repeated products, keeping first-seen order.
func normalizeItems(items []OrderItem) ([]OrderItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidRequest)
	}

	merged := make([]OrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: item product id is required", ErrInvalidRequest)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidRequest, id)
		}
		if i, ok := index[id]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, OrderItem{ProductID: id, Quantity: item.Quantity})
	}
	return merged, nil
}
