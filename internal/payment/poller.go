package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"checkoutpay/internal/payment/domain"
)

// Sleeper waits between poll attempts. Tests replace it to avoid real delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultSleeper implements Sleeper with time.After
type DefaultSleeper struct{}

// Sleep waits for d or until ctx is done
func (DefaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// PollOptions control a confirmation poll.
type PollOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Exponential  bool
}

// DefaultPollOptions polls five times with 2s, 4s, 8s and 16s pauses.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		Exponential:  true,
	}
}

// maxPollDelay caps exponential growth between attempts.
const maxPollDelay = time.Minute

// delay returns the pause after the given 1-based attempt.
func (o PollOptions) delay(attempt int) time.Duration {
	if !o.Exponential {
		return o.InitialDelay
	}
	d := o.InitialDelay
	for i := 1; i < attempt && d > 0 && d < maxPollDelay; i++ {
		d *= 2
	}
	return max(o.InitialDelay, min(d, maxPollDelay))
}

// PollResult is the outcome of a poll. A PENDING result after the budget
// is exhausted is a valid outcome, not a failure.
type PollResult struct {
	Status        domain.Status
	GatewayID     string
	StatusMessage string
	Attempts      int
	// Err is set only for the synthetic ERROR result returned when no
	// attempt ever reached the gateway.
	Err error
}

// Poller queries the gateway until a transaction leaves PENDING. It does
// not persist anything.
type Poller struct {
	gateway        Gateway
	sleeper        Sleeper
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// NewPoller creates a new confirmation poller. A nil sleeper uses DefaultSleeper.
func NewPoller(gw Gateway, sleeper Sleeper, attemptTimeout time.Duration, logger *slog.Logger) *Poller {
	if sleeper == nil {
		sleeper = DefaultSleeper{}
	}
	return &Poller{
		gateway:        gw,
		sleeper:        sleeper,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Poll returns as soon as the gateway reports a non-pending status. Failed
// attempts count against the budget and never abort the poll early.
func (p *Poller) Poll(ctx context.Context, gatewayID string, opts PollOptions) PollResult {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var last *PollResult
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		attempts = attempt
		result, err := p.attempt(ctx, gatewayID)
		if err != nil {
			lastErr = err
			p.logger.Warn("gateway poll attempt failed",
				"gateway_id", gatewayID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			result.Attempts = attempt
			last = result
			if result.Status != domain.StatusPending {
				p.logger.Info("gateway transaction resolved",
					"gateway_id", gatewayID,
					"status", result.Status,
					"attempt", attempt,
				)
				return *result
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		if err := p.sleeper.Sleep(ctx, opts.delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	if last != nil {
		p.logger.Info("gateway transaction still pending after polling",
			"gateway_id", gatewayID,
			"attempts", last.Attempts,
		)
		return *last
	}

	return PollResult{
		Status:        domain.StatusError,
		GatewayID:     gatewayID,
		StatusMessage: "unable to retrieve transaction status",
		Attempts:      attempts,
		Err:           fmt.Errorf("%w: %v", ErrGatewayPollFailed, lastErr),
	}
}

func (p *Poller) attempt(ctx context.Context, gatewayID string) (*PollResult, error) {
	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}

	status, err := p.gateway.GetTransaction(ctx, gatewayID)
	if err != nil {
		return nil, err
	}

	return &PollResult{
		Status:        MapGatewayStatus(status.Status),
		GatewayID:     gatewayID,
		StatusMessage: status.StatusMessage,
	}, nil
}
