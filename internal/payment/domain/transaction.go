// Package domain holds the payment transaction aggregate and its state machine.
package domain

import (
	"errors"
	"fmt"
	"time"

	"checkoutpay/internal/common/money"
)

// Status represents the status of a payment transaction.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDeclined Status = "DECLINED"
	StatusVoided   Status = "VOIDED"
	StatusError    Status = "ERROR"
)

// IsTerminal returns true for statuses the gateway never moves away from.
// ERROR is not terminal: a later authoritative status may still arrive.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusVoided:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDeclined, StatusVoided, StatusError:
		return true
	}
	return false
}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid status")
)

// InvalidTransitionError is returned when a terminal transaction is asked to change.
type InvalidTransitionError struct {
	TransactionID string
	Current       Status
	Requested     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %s is already %s, cannot move to %s", e.TransactionID, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// PaymentMethod describes how the customer paid. Single-use instrument
// tokens are forwarded to the gateway and never stored.
type PaymentMethod struct {
	Type         string `json:"type"`
	Installments int    `json:"installments,omitempty"`
}

// ShippingAddress is where an approved order is delivered.
type ShippingAddress struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	City         string `json:"city"`
	Region       string `json:"region"`
	Country      string `json:"country"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// IsComplete reports whether the address has enough to ship to.
func (a *ShippingAddress) IsComplete() bool {
	return a != nil && a.AddressLine1 != "" && a.City != ""
}

// Transaction is one payment attempt. It is never deleted and never
// mutated in place: UpdateStatus returns a new snapshot.
type Transaction struct {
	ID                   string           `json:"id"`
	CustomerID           string           `json:"customer_id"`
	CustomerEmail        string           `json:"customer_email"`
	AmountInCents        int64            `json:"amount_in_cents"`
	Currency             money.Currency   `json:"currency"`
	Status               Status           `json:"status"`
	Reference            string           `json:"reference"`
	AcceptanceToken      string           `json:"-"`
	PersonalAuthToken    string           `json:"-"`
	PaymentMethod        PaymentMethod    `json:"payment_method"`
	GatewayTransactionID string           `json:"gateway_transaction_id,omitempty"`
	RedirectURL          string           `json:"redirect_url,omitempty"`
	PaymentLinkID        string           `json:"payment_link_id,omitempty"`
	CustomerFullName     string           `json:"customer_full_name,omitempty"`
	CustomerPhoneNumber  string           `json:"customer_phone_number,omitempty"`
	ShippingAddress      *ShippingAddress `json:"shipping_address,omitempty"`
	Metadata             *Metadata        `json:"metadata,omitempty"`
	ErrorMessage         string           `json:"error_message,omitempty"`
	Version              int              `json:"version"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// NewTransactionParams are the inputs fixed at creation.
type NewTransactionParams struct {
	ID                  string
	CustomerID          string
	CustomerEmail       string
	AmountInCents       int64
	Currency            money.Currency
	Reference           string
	AcceptanceToken     string
	PersonalAuthToken   string
	PaymentMethod       PaymentMethod
	CustomerFullName    string
	CustomerPhoneNumber string
	ShippingAddress     *ShippingAddress
	Metadata            *Metadata
}

// NewTransaction creates a PENDING transaction.
func NewTransaction(p NewTransactionParams) (*Transaction, error) {
	if p.ID == "" {
		return nil, errors.New("id is required")
	}
	if p.Reference == "" {
		return nil, errors.New("reference is required")
	}
	if p.CustomerEmail == "" {
		return nil, errors.New("customer_email is required")
	}
	if p.AmountInCents <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if p.Currency == "" {
		return nil, errors.New("currency is required")
	}

	now := time.Now().UTC()
	return &Transaction{
		ID:                  p.ID,
		CustomerID:          p.CustomerID,
		CustomerEmail:       p.CustomerEmail,
		AmountInCents:       p.AmountInCents,
		Currency:            p.Currency,
		Status:              StatusPending,
		Reference:           p.Reference,
		AcceptanceToken:     p.AcceptanceToken,
		PersonalAuthToken:   p.PersonalAuthToken,
		PaymentMethod:       p.PaymentMethod,
		CustomerFullName:    p.CustomerFullName,
		CustomerPhoneNumber: p.CustomerPhoneNumber,
		ShippingAddress:     p.ShippingAddress.clone(),
		Metadata:            p.Metadata.Clone(),
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// Field is an optional patch value. The zero Field leaves the target
// unchanged; Set with a zero value clears it.
type Field[T any] struct {
	value T
	set   bool
}

// Set returns a Field that overwrites the target with v.
func Set[T any](v T) Field[T] {
	return Field[T]{value: v, set: true}
}

// Get returns the value and whether it was set.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.set
}

// Or returns the patch value when set, otherwise prev.
func (f Field[T]) Or(prev T) T {
	if f.set {
		return f.value
	}
	return prev
}

// StatusUpdate is a patch applied by UpdateStatus.
type StatusUpdate struct {
	Status               Status
	GatewayTransactionID Field[string]
	RedirectURL          Field[string]
	PaymentLinkID        Field[string]
	Metadata             Field[*Metadata]
	ErrorMessage         Field[string]
}

// UpdateStatus returns a new snapshot with the patch applied. Fields the
// patch does not mention keep their previous values. A transaction in a
// terminal status rejects every update.
func (t *Transaction) UpdateStatus(u StatusUpdate) (*Transaction, error) {
	if t.Status.IsTerminal() {
		return nil, &InvalidTransitionError{TransactionID: t.ID, Current: t.Status, Requested: u.Status}
	}
	if !u.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}

	next := t.Clone()
	next.Status = u.Status
	next.GatewayTransactionID = u.GatewayTransactionID.Or(t.GatewayTransactionID)
	next.RedirectURL = u.RedirectURL.Or(t.RedirectURL)
	next.PaymentLinkID = u.PaymentLinkID.Or(t.PaymentLinkID)
	next.ErrorMessage = u.ErrorMessage.Or(t.ErrorMessage)
	if md, ok := u.Metadata.Get(); ok {
		next.Metadata = md.Clone()
	}
	next.UpdatedAt = time.Now().UTC()

	return next, nil
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.ShippingAddress = t.ShippingAddress.clone()
	cp.Metadata = t.Metadata.Clone()
	return &cp
}

// HasDeliveryDetails reports whether the snapshot carries everything a delivery needs.
func (t *Transaction) HasDeliveryDetails() bool {
	return t.ShippingAddress.IsComplete() && t.CustomerFullName != "" && t.CustomerPhoneNumber != ""
}

func (a *ShippingAddress) clone() *ShippingAddress {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
