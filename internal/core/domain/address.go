package domain

import "time"

type Address struct {
	ID         string
	CustomerID string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Manual     bool
	CreatedAt  time.Time
}
