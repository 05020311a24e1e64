package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Status is the gateway's transaction status vocabulary.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDeclined Status = "DECLINED"
	StatusVoided   Status = "VOIDED"
	StatusError    Status = "ERROR"
)

// PresignedToken is a consent token issued by the merchant endpoint.
type PresignedToken struct {
	AcceptanceToken string `json:"acceptance_token"`
	Permalink       string `json:"permalink"`
	Type            string `json:"type"`
}

// Merchant is the merchant descriptor. Its tokens are bound to a short
// validity window and must be fetched per transaction.
type Merchant struct {
	ID                        int64          `json:"id"`
	Name                      string         `json:"name"`
	PublicKey                 string         `json:"public_key"`
	PresignedAcceptance       PresignedToken `json:"presigned_acceptance"`
	PresignedPersonalDataAuth PresignedToken `json:"presigned_personal_data_auth"`
}

// AcceptanceToken returns the end-user policy token.
func (m *Merchant) AcceptanceToken() string {
	return m.PresignedAcceptance.AcceptanceToken
}

// PersonalDataAuthToken returns the personal data authorization token.
func (m *Merchant) PersonalDataAuthToken() string {
	return m.PresignedPersonalDataAuth.AcceptanceToken
}

// PaymentMethod is the tokenized instrument the customer pays with.
type PaymentMethod struct {
	Type         string `json:"type"`
	Token        string `json:"token,omitempty"`
	Installments int    `json:"installments,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	UserType     string `json:"user_type,omitempty"`
}

// CustomerData carries contact details shown on the gateway checkout.
type CustomerData struct {
	FullName    string `json:"full_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// ShippingAddress is the delivery address sent along with the charge.
type ShippingAddress struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	Country      string `json:"country"`
	Region       string `json:"region"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	Name         string `json:"name,omitempty"`
}

// CreateTransactionRequest is the signed transaction creation payload.
type CreateTransactionRequest struct {
	AcceptanceToken    string           `json:"acceptance_token"`
	AcceptPersonalAuth string           `json:"accept_personal_auth"`
	AmountInCents      int64            `json:"amount_in_cents"`
	Currency           string           `json:"currency"`
	Signature          string           `json:"signature"`
	CustomerEmail      string           `json:"customer_email"`
	Reference          string           `json:"reference"`
	PaymentMethod      PaymentMethod    `json:"payment_method"`
	RedirectURL        string           `json:"redirect_url,omitempty"`
	CustomerData       *CustomerData    `json:"customer_data,omitempty"`
	ShippingAddress    *ShippingAddress `json:"shipping_address,omitempty"`
	PaymentSourceID    int64            `json:"payment_source_id,omitempty"`
}

// CreatedTransaction is the gateway's answer to a creation request.
type CreatedTransaction struct {
	ID            string `json:"id"`
	Status        Status `json:"status"`
	Reference     string `json:"reference"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	PaymentLinkID string `json:"payment_link_id,omitempty"`
}

// TransactionStatus is a status observation for a gateway transaction.
type TransactionStatus struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	StatusMessage string          `json:"status_message,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	AmountInCents int64           `json:"amount_in_cents,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// envelope is the gateway's response wrapper.
type envelope[T any] struct {
	Data  T          `json:"data"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Type     string              `json:"type"`
	Reason   string              `json:"reason,omitempty"`
	Messages map[string][]string `json:"messages,omitempty"`
}

var (
	ErrCircuitOpen = errors.New("gateway circuit open")
	ErrGateway     = errors.New("gateway error")
)

// APIError is a failure reported by the gateway itself.
type APIError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("gateway api error: status=%d reason=%s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("gateway api error: status=%d type=%s reason=%s", e.StatusCode, e.Type, e.Reason)
}

func (e *APIError) Unwrap() error {
	return ErrGateway
}

// Temporary reports whether the failure is on the gateway side.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		apiErr.Reason = truncate(strings.TrimSpace(string(body)), 512)
		return apiErr
	}

	apiErr.Type = env.Error.Type
	apiErr.Reason = env.Error.Reason
	if apiErr.Reason == "" && len(env.Error.Messages) > 0 {
		parts := make([]string, 0, len(env.Error.Messages))
		for field, msgs := range env.Error.Messages {
			parts = append(parts, field+": "+strings.Join(msgs, ", "))
		}
		sort.Strings(parts)
		apiErr.Reason = strings.Join(parts, "; ")
	}
	return apiErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
