package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"checkoutpay/internal/catalog"
	"checkoutpay/internal/common/events"
	"checkoutpay/internal/payment/domain"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Outcome reports what the orchestrator did for one transaction.
type Outcome struct {
	StockDeducted bool
	Delivery      *Delivery
	// SkipReason is set when the delivery was not created for a reason that
	// does not fail the payment.
	SkipReason string
}

// Orchestrator deducts stock and creates the delivery for approved payments.
type Orchestrator struct {
	stock      catalog.StockStore
	deliveries DeliveryStore
	publisher  EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator creates a new post-payment orchestrator. publisher may be nil.
func NewOrchestrator(stock catalog.StockStore, deliveries DeliveryStore, publisher EventPublisher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stock:      stock,
		deliveries: deliveries,
		publisher:  publisher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle runs Process and drops the outcome.
func (o *Orchestrator) Handle(ctx context.Context, tx *domain.Transaction, items []domain.LineItem) error {
	_, err := o.Process(ctx, tx, items)
	return err
}

// Process is a no-op unless tx is APPROVED. Stock for all items is deducted
// as one unit; if that fails no delivery is created. Missing delivery
// details skip the delivery without failing.
func (o *Orchestrator) Process(ctx context.Context, tx *domain.Transaction, items []domain.LineItem) (*Outcome, error) {
	outcome := &Outcome{}
	if tx.Status != domain.StatusApproved {
		return outcome, nil
	}

	if len(items) > 0 {
		lines := make([]catalog.StockLine, 0, len(items))
		for _, item := range items {
			lines = append(lines, catalog.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		if err := o.stock.DeductStock(ctx, lines); err != nil {
			o.logger.Error("stock deduction failed",
				"transaction_id", tx.ID,
				"reference", tx.Reference,
				"error", err,
			)
			return outcome, fmt.Errorf("deducting stock for transaction %s: %w", tx.ID, err)
		}
		outcome.StockDeducted = true
		o.logger.Info("stock deducted",
			"transaction_id", tx.ID,
			"lines", len(lines),
		)
	}

	if !tx.HasDeliveryDetails() {
		outcome.SkipReason = "missing shipping address, customer name or phone"
		o.logger.Warn("delivery skipped",
			"transaction_id", tx.ID,
			"reference", tx.Reference,
			"reason", outcome.SkipReason,
		)
		return outcome, nil
	}

	now := o.now()
	delivery := &Delivery{
		ID:            ulid.Make().String(),
		TransactionID: tx.ID,
		CustomerName:  tx.CustomerFullName,
		CustomerPhone: tx.CustomerPhoneNumber,
		Address:       *tx.ShippingAddress,
		Status:        DeliveryPending,
		EstimatedDate: now.Add(DefaultLeadTime),
		Notes:         "Order " + tx.Reference,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.deliveries.Create(ctx, delivery); err != nil {
		if errors.Is(err, ErrDeliveryExists) {
			o.logger.Warn("delivery already exists",
				"transaction_id", tx.ID,
			)
		}
		return outcome, fmt.Errorf("creating delivery: %w", err)
	}
	outcome.Delivery = delivery

	o.logger.Info("delivery created",
		"transaction_id", tx.ID,
		"delivery_id", delivery.ID,
		"estimated_date", delivery.EstimatedDate,
	)
	o.publishCreated(ctx, tx, delivery)

	return outcome, nil
}

func (o *Orchestrator) publishCreated(ctx context.Context, tx *domain.Transaction, d *Delivery) {
	if o.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.EventDeliveryCreated, events.AggregateDelivery, d.ID, events.DeliveryCreatedData{
		DeliveryID:    d.ID,
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		EstimatedDate: d.EstimatedDate,
	})
	if err != nil {
		o.logger.Error("building event", "type", events.EventDeliveryCreated, "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("publishing event", "type", event.Type, "event_id", event.ID, "error", err)
	}
}
