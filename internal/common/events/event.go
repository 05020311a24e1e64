package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Aggregate types
const (
	AggregateTransaction = "transaction"
	AggregateDelivery    = "delivery"
)

// Event types
const (
	EventTransactionCreated = "payments.transaction.created"
	EventTransactionUpdated = "payments.transaction.updated"
	EventDeliveryCreated    = "fulfillment.delivery.created"
)

// TransactionCreatedData is the data for payments.transaction.created events
type TransactionCreatedData struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	CustomerEmail string `json:"customer_email"`
	AmountInCents int64  `json:"amount_in_cents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}

// TransactionUpdatedData is the data for payments.transaction.updated events
type TransactionUpdatedData struct {
	TransactionID        string `json:"transaction_id"`
	Reference            string `json:"reference"`
	PreviousStatus       string `json:"previous_status"`
	Status               string `json:"status"`
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	ErrorMessage         string `json:"error_message,omitempty"`
}

// DeliveryCreatedData is the data for fulfillment.delivery.created events
type DeliveryCreatedData struct {
	DeliveryID    string    `json:"delivery_id"`
	TransactionID string    `json:"transaction_id"`
	Reference     string    `json:"reference"`
	EstimatedDate time.Time `json:"estimated_date"`
}

// LogPublisher logs events instead of sending them to a broker. It is
// used when NATS is disabled.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event *Event) error {
	p.logger.Info("event emitted",
		"event_id", event.ID,
		"type", event.Type,
		"aggregate_id", event.AggregateID,
	)
	return nil
}
