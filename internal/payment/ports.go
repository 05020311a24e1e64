// Package payment runs checkout: pricing, gateway submission, status
// confirmation and the guarded transaction state transitions.
package payment

import (
	"context"
	"errors"

	"checkoutpay/internal/common/events"
	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment/domain"
)

var (
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrGatewaySubmissionFailed = errors.New("gateway submission failed")
	ErrGatewayPollFailed       = errors.New("gateway poll failed")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrNotSubmitted            = errors.New("transaction has no gateway id")
)

// Repository persists transactions. Update must fail with
// database.ErrNotFound when no row matches and database.ErrConflict when
// the stored version moved on.
type Repository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	FindByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	FindByCustomerEmail(ctx context.Context, email string, limit int) ([]*domain.Transaction, error)
	Update(ctx context.Context, tx *domain.Transaction) error
}

// Gateway is the subset of the gateway client the payment flow uses.
type Gateway interface {
	GetMerchant(ctx context.Context) (*gateway.Merchant, error)
	CreateTransaction(ctx context.Context, req *gateway.CreateTransactionRequest) (*gateway.CreatedTransaction, error)
	GetTransaction(ctx context.Context, gatewayID string) (*gateway.TransactionStatus, error)
}

// PostPaymentHandler runs the side effects of a resolved payment.
type PostPaymentHandler interface {
	Handle(ctx context.Context, tx *domain.Transaction, items []domain.LineItem) error
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}
