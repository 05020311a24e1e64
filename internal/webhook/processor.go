package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment"
	"checkoutpay/internal/payment/domain"
)

// EventTransactionUpdated is the only event kind that changes local state.
const EventTransactionUpdated = "transaction.updated"

// Config holds webhook settings
type Config struct {
	EventsSecret     string        `envconfig:"WEBHOOK_EVENTS_SECRET"`
	EnforceSignature bool          `envconfig:"WEBHOOK_ENFORCE_SIGNATURE" default:"true"`
	SkipVerification bool          `envconfig:"WEBHOOK_SKIP_VERIFICATION" default:"false"`
	DedupeTTL        time.Duration `envconfig:"WEBHOOK_DEDUPE_TTL" default:"24h"`
	MaxBodyBytes     int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

// Outcome is what happened to a notification.
type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeIgnored             Outcome = "ignored"
	OutcomeTransactionNotFound Outcome = "transaction_not_found"
	OutcomeAlreadyFinal        Outcome = "already_final"
	OutcomeDuplicate           Outcome = "duplicate"
	OutcomeSignatureRejected   Outcome = "signature_rejected"
)

// Result describes a processed notification. SignatureErr is kept even
// when the notification was not rejected, for auditing.
type Result struct {
	Event          string
	Reference      string
	GatewayID      string
	Status         gateway.Status
	SignatureValid bool
	SignatureErr   error
	Outcome        Outcome
	Transaction    *domain.Transaction
}

// TransactionUpdater is the part of the payment service webhooks drive.
type TransactionUpdater interface {
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	ApplyGatewayStatus(ctx context.Context, transactionID string, status gateway.Status, gatewayID, message string) (*domain.Transaction, error)
}

// Processor verifies notifications and applies them through the same
// guarded transition path as the poller.
type Processor struct {
	cfg       Config
	updater   TransactionUpdater
	processed ProcessedStore
	logger    *slog.Logger
}

// NewProcessor creates a new webhook processor. processed may be nil to
// disable dedupe.
func NewProcessor(cfg Config, updater TransactionUpdater, processed ProcessedStore, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		updater:   updater,
		processed: processed,
		logger:    logger,
	}
}

// Process handles one raw notification body. Only structurally invalid
// payloads, enforced signature failures and unexpected faults return an
// error; everything else is acknowledged with an Outcome.
func (p *Processor) Process(ctx context.Context, raw []byte, checksumHeader string) (*Result, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidPayload)
	}

	fields := gjson.GetManyBytes(raw,
		"event",
		"data.transaction.reference",
		"data.transaction.id",
		"data.transaction.status",
		"data.transaction.status_message",
	)
	result := &Result{
		Event:     fields[0].String(),
		Reference: fields[1].String(),
		GatewayID: fields[2].String(),
		Status:    gateway.Status(fields[3].String()),
	}
	if result.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}

	log := p.logger.With(
		"event", result.Event,
		"reference", result.Reference,
		"gateway_id", result.GatewayID,
	)

	if p.cfg.SkipVerification {
		log.Warn("webhook signature verification skipped")
	} else {
		result.SignatureErr = Verify(raw, checksumHeader, p.cfg.EventsSecret)
		result.SignatureValid = result.SignatureErr == nil
		if result.SignatureErr != nil {
			log.Warn("webhook signature verification failed",
				"error", result.SignatureErr,
				"enforced", p.cfg.EnforceSignature,
			)
			if p.cfg.EnforceSignature {
				result.Outcome = OutcomeSignatureRejected
				return result, result.SignatureErr
			}
		}
	}

	if result.Event != EventTransactionUpdated {
		log.Info("webhook event ignored")
		result.Outcome = OutcomeIgnored
		return result, nil
	}
	if result.Reference == "" || result.Status == "" {
		return nil, fmt.Errorf("%w: missing transaction reference or status", ErrInvalidPayload)
	}

	key := dedupeKey(raw, checksumHeader, result)
	if p.processed != nil {
		first, err := p.processed.MarkProcessed(ctx, key, p.cfg.DedupeTTL)
		if err != nil {
			log.Warn("webhook dedupe unavailable", "error", err)
		} else if !first {
			log.Info("duplicate webhook delivery")
			result.Outcome = OutcomeDuplicate
			return result, nil
		}
	}

	tx, err := p.updater.GetByReference(ctx, result.Reference)
	if errors.Is(err, payment.ErrTransactionNotFound) {
		log.Info("webhook for unknown transaction acknowledged")
		result.Outcome = OutcomeTransactionNotFound
		return result, nil
	}
	if err != nil {
		p.release(ctx, key)
		return nil, fmt.Errorf("finding transaction: %w", err)
	}

	updated, err := p.updater.ApplyGatewayStatus(ctx, tx.ID, result.Status, result.GatewayID, fields[4].String())
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Info("webhook for finalized transaction acknowledged",
			"transaction_id", tx.ID,
			"current_status", tx.Status,
			"gateway_status", result.Status,
		)
		result.Outcome = OutcomeAlreadyFinal
		result.Transaction = tx
		return result, nil
	case err != nil:
		p.release(ctx, key)
		return nil, fmt.Errorf("applying gateway status: %w", err)
	}

	log.Info("webhook applied",
		"transaction_id", updated.ID,
		"status", updated.Status,
	)
	result.Outcome = OutcomeApplied
	result.Transaction = updated
	return result, nil
}

func (p *Processor) release(ctx context.Context, key string) {
	if p.processed == nil {
		return
	}
	if err := p.processed.Release(ctx, key); err != nil {
		p.logger.Warn("releasing webhook dedupe key", "error", err)
	}
}

// dedupeKey prefers the checksum, which is unique per delivery content.
func dedupeKey(raw []byte, header string, r *Result) string {
	if header != "" {
		return header
	}
	if checksum := gjson.GetBytes(raw, "signature.checksum").String(); checksum != "" {
		return checksum
	}
	return r.Event + ":" + r.Reference + ":" + string(r.Status) + ":" + gjson.GetBytes(raw, "timestamp").String()
}
