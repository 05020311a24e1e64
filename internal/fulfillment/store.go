package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"checkoutpay/internal/common/database"
)

// PostgresStore implements DeliveryStore with PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL delivery store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a delivery. The unique index on transaction_id rejects a
// second delivery for the same transaction.
func (s *PostgresStore) Create(ctx context.Context, d *Delivery) error {
	address, err := json.Marshal(d.Address)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}

	query := `
		INSERT INTO deliveries (id, transaction_id, customer_name, customer_phone, address,
			status, estimated_date, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.db.Exec(ctx, query,
		d.ID,
		d.TransactionID,
		d.CustomerName,
		d.CustomerPhone,
		address,
		d.Status,
		d.EstimatedDate,
		database.NullableString(d.Notes),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", d.TransactionID, ErrDeliveryExists)
		}
		return fmt.Errorf("insert delivery: %w", err)
	}

	return nil
}

// FindByTransactionID retrieves the delivery of a transaction.
func (s *PostgresStore) FindByTransactionID(ctx context.Context, transactionID string) (*Delivery, error) {
	query := `
		SELECT id, transaction_id, customer_name, customer_phone, address,
			status, estimated_date, notes, created_at, updated_at
		FROM deliveries
		WHERE transaction_id = $1
	`

	var d Delivery
	var address []byte
	var notes *string
	err := s.db.QueryRow(ctx, query, transactionID).Scan(
		&d.ID,
		&d.TransactionID,
		&d.CustomerName,
		&d.CustomerPhone,
		&address,
		&d.Status,
		&d.EstimatedDate,
		&notes,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ErrDeliveryNotFound, transactionID)
		}
		return nil, fmt.Errorf("query delivery: %w", err)
	}

	if err := json.Unmarshal(address, &d.Address); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	d.Notes = database.StringValue(notes)

	return &d, nil
}

var _ DeliveryStore = (*PostgresStore)(nil)
