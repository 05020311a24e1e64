package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"checkoutpay/internal/catalog"
	"checkoutpay/internal/common/api"
	"checkoutpay/internal/common/middleware"
	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment"
	"checkoutpay/internal/payment/domain"
	"checkoutpay/internal/pricing"
)

// Service is the payment use case surface exposed over HTTP.
type Service interface {
	Checkout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutResult, error)
	Quote(ctx context.Context, items []pricing.LineItem, discountCode string) (*pricing.Calculation, error)
	Confirm(ctx context.Context, transactionID string, opts payment.PollOptions) (*domain.Transaction, error)
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	ListByCustomerEmail(ctx context.Context, email string, limit int) ([]*domain.Transaction, error)
}

// Handler handles payment HTTP requests
type Handler struct {
	service     Service
	pollOptions payment.PollOptions
	logger      *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(service Service, pollOptions payment.PollOptions, logger *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		pollOptions: pollOptions,
		logger:      logger,
	}
}

// Routes returns the payment routes. checkoutMiddleware wraps only the
// checkout creation route.
func (h *Handler) Routes(checkoutMiddleware ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Checkout routes
	r.With(checkoutMiddleware...).Post("/checkout", h.Checkout)
	r.Post("/checkout/quote", h.Quote)

	// Transaction routes
	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.Get("/transactions/reference/{reference}", h.GetTransactionByReference)
	r.Post("/transactions/{id}/confirm", h.ConfirmTransaction)

	return r
}

// ShippingAddressRequest is where the order ships to
type ShippingAddressRequest struct {
	AddressLine1 string `json:"address_line_1" validate:"required,max=255"`
	AddressLine2 string `json:"address_line_2" validate:"max=255"`
	City         string `json:"city" validate:"required,max=100"`
	Region       string `json:"region" validate:"required,max=100"`
	Country      string `json:"country" validate:"required,len=2"`
	PostalCode   string `json:"postal_code" validate:"max=20"`
}

// PaymentMethodRequest is the tokenized payment instrument
type PaymentMethodRequest struct {
	Type         string `json:"type" validate:"required,oneof=CARD NEQUI PSE BANCOLOMBIA_TRANSFER"`
	Token        string `json:"token"`
	Installments int    `json:"installments" validate:"gte=0,lte=36"`
	PhoneNumber  string `json:"phone_number"`
	UserType     string `json:"user_type"`
}

// CheckoutRequest is the API request for paying a cart
type CheckoutRequest struct {
	CustomerID          string                  `json:"customer_id"`
	CustomerEmail       string                  `json:"customer_email" validate:"required,email"`
	Items               []pricing.LineItem      `json:"items" validate:"required,min=1,dive"`
	DiscountCode        string                  `json:"discount_code"`
	Amount              *decimal.Decimal        `json:"amount"`
	PaymentMethod       PaymentMethodRequest    `json:"payment_method"`
	CustomerFullName    string                  `json:"customer_full_name" validate:"max=255"`
	CustomerPhoneNumber string                  `json:"customer_phone_number" validate:"max=30"`
	ShippingAddress     *ShippingAddressRequest `json:"shipping_address"`
	RedirectURL         string                  `json:"redirect_url" validate:"omitempty,url"`
}

// CheckoutResponse is returned for a created checkout
type CheckoutResponse struct {
	Transaction *domain.Transaction  `json:"transaction"`
	Pricing     *pricing.Calculation `json:"pricing"`
}

// Checkout handles POST /checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	svcReq := payment.CheckoutRequest{
		CustomerID:     req.CustomerID,
		CustomerEmail:  req.CustomerEmail,
		Items:          req.Items,
		DiscountCode:   req.DiscountCode,
		DeclaredAmount: req.Amount,
		PaymentMethod: gateway.PaymentMethod{
			Type:         req.PaymentMethod.Type,
			Token:        req.PaymentMethod.Token,
			Installments: req.PaymentMethod.Installments,
			PhoneNumber:  req.PaymentMethod.PhoneNumber,
			UserType:     req.PaymentMethod.UserType,
		},
		CustomerFullName:    req.CustomerFullName,
		CustomerPhoneNumber: req.CustomerPhoneNumber,
		RedirectURL:         req.RedirectURL,
	}
	if a := req.ShippingAddress; a != nil {
		svcReq.ShippingAddress = &domain.ShippingAddress{
			AddressLine1: a.AddressLine1,
			AddressLine2: a.AddressLine2,
			City:         a.City,
			Region:       a.Region,
			Country:      a.Country,
			PostalCode:   a.PostalCode,
		}
	}

	result, err := h.service.Checkout(r.Context(), svcReq)
	if errors.Is(err, payment.ErrGatewaySubmissionFailed) && result != nil {
		api.WriteJSON(w, http.StatusBadGateway, api.Response[CheckoutResponse]{
			Data: CheckoutResponse{Transaction: result.Transaction, Pricing: result.Pricing},
			Error: &api.Error{
				Code:    api.ErrCodeGatewayError,
				Message: "The payment gateway rejected the transaction",
			},
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusCreated, CheckoutResponse{Transaction: result.Transaction, Pricing: result.Pricing})
}

// QuoteRequest is the API request for pricing a cart
type QuoteRequest struct {
	Items        []pricing.LineItem `json:"items" validate:"required,min=1,dive"`
	DiscountCode string             `json:"discount_code"`
}

// Quote handles POST /checkout/quote
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	calc, err := h.service.Quote(r.Context(), req.Items, req.DiscountCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, calc)
}

// GetTransaction handles GET /transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, tx)
}

// GetTransactionByReference handles GET /transactions/reference/{reference}
func (h *Handler) GetTransactionByReference(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, tx)
}

// ListTransactions handles GET /transactions?email=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if err := api.Validate.Var(email, "required,email"); err != nil {
		api.BadRequest(w, "a valid email query parameter is required")
		return
	}

	txs, err := h.service.ListByCustomerEmail(r.Context(), email, api.LimitParam(r, 50, 100))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteList(w, http.StatusOK, txs)
}

// ConfirmTransaction handles POST /transactions/{id}/confirm
func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	opts := h.pollOptions
	if raw := r.URL.Query().Get("max_attempts"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 10 {
			api.BadRequest(w, "max_attempts must be between 1 and 10")
			return
		}
		opts.MaxAttempts = n
	}

	tx, err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, tx)
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, api.ErrMalformedBody) {
		api.BadRequest(w, "request body must be valid JSON")
		return
	}
	api.ValidationError(w, err)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *catalog.InsufficientStockError
	var transitionErr *domain.InvalidTransitionError

	switch {
	case errors.As(err, &stockErr):
		api.WriteErrorWithDetails(w, http.StatusConflict, api.ErrCodeInsufficientStock, "Insufficient stock", map[string]string{
			"product_id": stockErr.ProductID,
			"available":  strconv.Itoa(stockErr.Available),
			"requested":  strconv.Itoa(stockErr.Requested),
		})
	case errors.Is(err, catalog.ErrProductNotFound):
		api.NotFound(w, err.Error())
	case errors.Is(err, payment.ErrTransactionNotFound):
		api.NotFound(w, "transaction not found")
	case errors.Is(err, pricing.ErrInvalidLineItem):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.Is(err, payment.ErrInvalidAmount):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidAmount, "The order total is not a payable amount")
	case errors.As(err, &transitionErr):
		api.WriteError(w, http.StatusConflict, api.ErrCodeInvalidTransition, transitionErr.Error())
	case errors.Is(err, payment.ErrNotSubmitted):
		api.Conflict(w, "transaction was never submitted to the gateway")
	case errors.Is(err, gateway.ErrCircuitOpen):
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrCodeServiceUnavail, "The payment gateway is temporarily unavailable")
	case errors.Is(err, gateway.ErrGateway):
		api.BadGateway(w, "The payment gateway returned an error")
	default:
		h.logger.Error("payment request failed",
			"error", err,
			"path", r.URL.Path,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
		)
		api.InternalError(w, "failed to process request")
	}
}
