// Package fulfillment runs the side effects of an approved payment: stock
// deduction and delivery creation.
package fulfillment

import (
	"context"
	"errors"
	"time"

	"checkoutpay/internal/payment/domain"
)

var (
	ErrDeliveryExists   = errors.New("delivery already exists for transaction")
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// DefaultLeadTime is added to the creation time when no estimated date is given.
const DefaultLeadTime = 5 * 24 * time.Hour

// DeliveryStatus represents the status of a delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryShipped   DeliveryStatus = "SHIPPED"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
)

// Delivery is the shipment created for an approved transaction.
type Delivery struct {
	ID            string                 `json:"id"`
	TransactionID string                 `json:"transaction_id"`
	CustomerName  string                 `json:"customer_name"`
	CustomerPhone string                 `json:"customer_phone"`
	Address       domain.ShippingAddress `json:"address"`
	Status        DeliveryStatus         `json:"status"`
	EstimatedDate time.Time              `json:"estimated_date"`
	Notes         string                 `json:"notes,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// DeliveryStore persists deliveries. Create must return ErrDeliveryExists
// when the transaction already has one.
type DeliveryStore interface {
	Create(ctx context.Context, d *Delivery) error
	FindByTransactionID(ctx context.Context, transactionID string) (*Delivery, error)
}
