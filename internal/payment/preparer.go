package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"checkoutpay/internal/common/money"
)

// PrepareInput is what the preparer needs to get a charge ready.
type PrepareInput struct {
	// TotalInCents is the server-computed total. It is the amount charged.
	TotalInCents int64
	Currency     money.Currency
	// DeclaredAmount is the amount the client believes it is paying. It is
	// only compared against the server total.
	DeclaredAmount *decimal.Decimal
}

// Prepared is a charge ready to be signed and submitted.
type Prepared struct {
	Reference         string
	AcceptanceToken   string
	PersonalAuthToken string
	// Amount is the normalized charge in minor units.
	Amount money.Money
}

// Preparer issues references, fetches consent tokens and normalizes amounts.
type Preparer struct {
	gateway         Gateway
	referencePrefix string
	logger          *slog.Logger
}

// NewPreparer creates a new payment preparer.
func NewPreparer(gw Gateway, referencePrefix string, logger *slog.Logger) *Preparer {
	if referencePrefix == "" {
		referencePrefix = "ORD"
	}
	return &Preparer{
		gateway:         gw,
		referencePrefix: referencePrefix,
		logger:          logger,
	}
}

// GenerateReference returns <prefix>-<ULID>. The ULID carries a millisecond
// timestamp and 80 random bits from a monotonic, goroutine-safe source, so
// concurrent preparations cannot collide.
func (p *Preparer) GenerateReference() string {
	return p.referencePrefix + "-" + ulid.Make().String()
}

// Prepare fetches fresh consent tokens and normalizes the server total for
// the gateway. Tokens are never reused across preparations.
func (p *Preparer) Prepare(ctx context.Context, in PrepareInput) (*Prepared, error) {
	amount := money.New(money.NormalizeMinor(in.TotalInCents, in.Currency), in.Currency)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %d %s normalizes to %d", ErrInvalidAmount, in.TotalInCents, in.Currency, amount.AmountMinor)
	}

	if in.DeclaredAmount != nil {
		declared := money.New(money.NormalizeForGateway(*in.DeclaredAmount, in.Currency), in.Currency)
		if declared.AmountMinor != amount.AmountMinor {
			p.logger.Warn("client declared amount differs from computed total",
				"declared_amount", declared.String(),
				"computed_amount", amount.String(),
			)
		}
	}

	merchant, err := p.gateway.GetMerchant(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching consent tokens: %w", err)
	}

	prepared := &Prepared{
		Reference:         p.GenerateReference(),
		AcceptanceToken:   merchant.AcceptanceToken(),
		PersonalAuthToken: merchant.PersonalDataAuthToken(),
		Amount:            amount,
	}

	if amount.AmountMinor != in.TotalInCents {
		p.logger.Info("amount adjusted for gateway",
			"reference", prepared.Reference,
			"computed_amount", money.New(in.TotalInCents, in.Currency).String(),
			"adjusted_amount", amount.String(),
		)
	}

	return prepared, nil
}
