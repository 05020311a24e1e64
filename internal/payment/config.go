package payment

import (
	"time"

	"checkoutpay/internal/common/money"
)

// Config holds checkout and confirmation settings
type Config struct {
	HomeCurrency        string        `envconfig:"PAYMENT_HOME_CURRENCY" default:"COP"`
	ReferencePrefix     string        `envconfig:"PAYMENT_REFERENCE_PREFIX" default:"ORD"`
	PollMaxAttempts     int           `envconfig:"PAYMENT_POLL_MAX_ATTEMPTS" default:"5"`
	PollInitialDelay    time.Duration `envconfig:"PAYMENT_POLL_INITIAL_DELAY" default:"2s"`
	PollExponential     bool          `envconfig:"PAYMENT_POLL_EXPONENTIAL" default:"true"`
	PollAttemptTimeout  time.Duration `envconfig:"PAYMENT_POLL_ATTEMPT_TIMEOUT" default:"10s"`
	AutoConfirm         bool          `envconfig:"PAYMENT_AUTO_CONFIRM" default:"true"`
	AutoConfirmDeadline time.Duration `envconfig:"PAYMENT_AUTO_CONFIRM_DEADLINE" default:"2m"`
	RedirectURL         string        `envconfig:"PAYMENT_REDIRECT_URL"`
}

// Currency returns the configured home currency.
func (c Config) Currency() money.Currency {
	return money.Currency(c.HomeCurrency)
}

// PollOptions returns the configured poll budget.
func (c Config) PollOptions() PollOptions {
	opts := DefaultPollOptions()
	if c.PollMaxAttempts > 0 {
		opts.MaxAttempts = c.PollMaxAttempts
	}
	if c.PollInitialDelay > 0 {
		opts.InitialDelay = c.PollInitialDelay
	}
	opts.Exponential = c.PollExponential
	return opts
}
