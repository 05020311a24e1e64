// Package store persists payment transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"checkoutpay/internal/common/database"
	"checkoutpay/internal/payment/domain"
)

// PostgresStore implements the transaction repository with PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL transaction store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `
	id, customer_id, customer_email, amount_in_cents, currency, status, reference,
	acceptance_token, personal_auth_token, payment_method, gateway_transaction_id,
	redirect_url, payment_link_id, customer_full_name, customer_phone_number,
	shipping_address, metadata, error_message, version, created_at, updated_at
`

// Create inserts a new transaction.
func (s *PostgresStore) Create(ctx context.Context, tx *domain.Transaction) error {
	paymentMethod, shipping, metadata, err := marshalJSONColumns(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = s.db.Exec(ctx, query,
		tx.ID,
		tx.CustomerID,
		tx.CustomerEmail,
		tx.AmountInCents,
		tx.Currency,
		tx.Status,
		tx.Reference,
		tx.AcceptanceToken,
		tx.PersonalAuthToken,
		paymentMethod,
		database.NullableString(tx.GatewayTransactionID),
		database.NullableString(tx.RedirectURL),
		database.NullableString(tx.PaymentLinkID),
		database.NullableString(tx.CustomerFullName),
		database.NullableString(tx.CustomerPhoneNumber),
		shipping,
		metadata,
		database.NullableString(tx.ErrorMessage),
		tx.Version,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction with reference %s: %w", tx.Reference, database.ErrAlreadyExists)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

// FindByID retrieves a transaction by id.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// FindByReference retrieves a transaction by its order reference.
func (s *PostgresStore) FindByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	return scanTransaction(row)
}

// FindByCustomerEmail lists a customer's transactions, newest first.
func (s *PostgresStore) FindByCustomerEmail(ctx context.Context, email string, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_email = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions by email: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// Update writes the snapshot if the stored version still matches
// tx.Version. It fails with database.ErrNotFound when the row does not
// exist and database.ErrConflict when another writer got there first. On
// success tx.Version is advanced.
func (s *PostgresStore) Update(ctx context.Context, tx *domain.Transaction) error {
	_, _, metadata, err := marshalJSONColumns(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions
		SET status = $3, gateway_transaction_id = $4, redirect_url = $5, payment_link_id = $6,
		    metadata = $7, error_message = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $2
	`

	tag, err := s.db.Exec(ctx, query,
		tx.ID,
		tx.Version,
		tx.Status,
		database.NullableString(tx.GatewayTransactionID),
		database.NullableString(tx.RedirectURL),
		database.NullableString(tx.PaymentLinkID),
		metadata,
		database.NullableString(tx.ErrorMessage),
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, tx.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check transaction: %w", err)
		}
		if !exists {
			return fmt.Errorf("transaction %s: %w", tx.ID, database.ErrNotFound)
		}
		return fmt.Errorf("transaction %s version %d: %w", tx.ID, tx.Version, database.ErrConflict)
	}

	tx.Version++
	return nil
}

func marshalJSONColumns(tx *domain.Transaction) (paymentMethod, shipping, metadata []byte, err error) {
	paymentMethod, err = json.Marshal(tx.PaymentMethod)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal payment method: %w", err)
	}
	if tx.ShippingAddress != nil {
		if shipping, err = json.Marshal(tx.ShippingAddress); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal shipping address: %w", err)
		}
	}
	if tx.Metadata != nil {
		if metadata, err = json.Marshal(tx.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	return paymentMethod, shipping, metadata, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var gatewayID, redirectURL, paymentLinkID, fullName, phone, errorMessage *string
	var paymentMethodJSON, shippingJSON, metadataJSON []byte

	err := row.Scan(
		&tx.ID,
		&tx.CustomerID,
		&tx.CustomerEmail,
		&tx.AmountInCents,
		&tx.Currency,
		&tx.Status,
		&tx.Reference,
		&tx.AcceptanceToken,
		&tx.PersonalAuthToken,
		&paymentMethodJSON,
		&gatewayID,
		&redirectURL,
		&paymentLinkID,
		&fullName,
		&phone,
		&shippingJSON,
		&metadataJSON,
		&errorMessage,
		&tx.Version,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	tx.GatewayTransactionID = database.StringValue(gatewayID)
	tx.RedirectURL = database.StringValue(redirectURL)
	tx.PaymentLinkID = database.StringValue(paymentLinkID)
	tx.CustomerFullName = database.StringValue(fullName)
	tx.CustomerPhoneNumber = database.StringValue(phone)
	tx.ErrorMessage = database.StringValue(errorMessage)

	if len(paymentMethodJSON) > 0 {
		if err := json.Unmarshal(paymentMethodJSON, &tx.PaymentMethod); err != nil {
			return nil, fmt.Errorf("unmarshal payment method: %w", err)
		}
	}
	if len(shippingJSON) > 0 {
		tx.ShippingAddress = &domain.ShippingAddress{}
		if err := json.Unmarshal(shippingJSON, tx.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		tx.Metadata = &domain.Metadata{}
		if err := json.Unmarshal(metadataJSON, tx.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &tx, nil
}
