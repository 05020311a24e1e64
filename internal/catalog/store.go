package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"checkoutpay/internal/common/database"
)

// PostgresStore implements the catalog lookups and stock mutations with PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL catalog store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var (
	_ ProductFinder  = (*PostgresStore)(nil)
	_ DiscountFinder = (*PostgresStore)(nil)
	_ StockStore     = (*PostgresStore)(nil)
)

// FindProduct retrieves a product by id.
func (s *PostgresStore) FindProduct(ctx context.Context, id string) (*Product, error) {
	query := `
		SELECT id, name, description, price, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	var description *string
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&description,
		&p.Price,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.Description = database.StringValue(description)

	return &p, nil
}

// FindDiscountByID retrieves a discount code by id.
func (s *PostgresStore) FindDiscountByID(ctx context.Context, id string) (*DiscountCode, error) {
	return s.findDiscount(ctx, `WHERE id = $1`, id)
}

// FindDiscountByCode retrieves a discount code by its case-insensitive code.
func (s *PostgresStore) FindDiscountByCode(ctx context.Context, code string) (*DiscountCode, error) {
	return s.findDiscount(ctx, `WHERE code = $1`, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *PostgresStore) findDiscount(ctx context.Context, where string, arg string) (*DiscountCode, error) {
	query := `SELECT id, code, discount_percentage, created_at FROM discount_codes ` + where

	var d DiscountCode
	err := s.db.QueryRow(ctx, query, arg).Scan(&d.ID, &d.Code, &d.DiscountPercentage, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDiscountCodeNotFound, arg)
		}
		return nil, fmt.Errorf("scan discount code: %w", err)
	}
	return &d, nil
}

// DeductStock removes the quantities from inventory in one database
// transaction. Each row is decremented only while enough stock remains, so
// concurrent deductions for the same product serialize on the row lock and
// the loser observes the post-deduction value. Any failing line rolls back
// every earlier line.
func (s *PostgresStore) DeductStock(ctx context.Context, lines []StockLine) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, line := range mergeLines(lines) {
			tag, err := tx.Exec(ctx, `
				UPDATE products
				SET stock = stock - $2, updated_at = now()
				WHERE id = $1 AND stock >= $2
			`, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("deduct stock for %s: %w", line.ProductID, err)
			}
			if tag.RowsAffected() == 1 {
				continue
			}

			var available int
			err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, line.ProductID).Scan(&available)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
			}
			if err != nil {
				return fmt.Errorf("read stock for %s: %w", line.ProductID, err)
			}
			return &InsufficientStockError{
				ProductID: line.ProductID,
				Available: available,
				Requested: line.Quantity,
			}
		}
		return nil
	})
}

// RestoreStock adds the quantities back to inventory. It is the compensating
// action for DeductStock.
func (s *PostgresStore) RestoreStock(ctx context.Context, lines []StockLine) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, line := range mergeLines(lines) {
			tag, err := tx.Exec(ctx, `
				UPDATE products
				SET stock = stock + $2, updated_at = now()
				WHERE id = $1
			`, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("restore stock for %s: %w", line.ProductID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
			}
		}
		return nil
	})
}

// mergeLines folds repeated products into a single line and orders the
// result by product id, so every transaction locks product rows in the same
// order.
func mergeLines(lines []StockLine) []StockLine {
	index := make(map[string]int, len(lines))
	merged := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ProductID < merged[j].ProductID
	})
	return merged
}
