package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"checkoutpay/internal/common/database"
	"checkoutpay/internal/common/events"
	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment/domain"
	"checkoutpay/internal/pricing"
)

// maxConflictRetries bounds how often a version conflict is re-read and retried.
const maxConflictRetries = 3

// CheckoutRequest is a cart the customer wants to pay for.
type CheckoutRequest struct {
	CustomerID          string
	CustomerEmail       string
	Items               []pricing.LineItem
	DiscountCode        string
	DeclaredAmount      *decimal.Decimal
	PaymentMethod       gateway.PaymentMethod
	CustomerFullName    string
	CustomerPhoneNumber string
	ShippingAddress     *domain.ShippingAddress
	RedirectURL         string
}

// CheckoutResult is a persisted transaction and the calculation behind it.
type CheckoutResult struct {
	Transaction *domain.Transaction
	Pricing     *pricing.Calculation
}

// Service runs checkout and applies status changes to transactions.
type Service struct {
	cfg        Config
	repo       Repository
	gateway    Gateway
	calculator *pricing.Calculator
	preparer   *Preparer
	poller     *Poller
	handler    PostPaymentHandler
	publisher  EventPublisher
	logger     *slog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewService creates a new payment service. handler and publisher may be nil.
func NewService(
	cfg Config,
	repo Repository,
	gw Gateway,
	calculator *pricing.Calculator,
	preparer *Preparer,
	poller *Poller,
	handler PostPaymentHandler,
	publisher EventPublisher,
	logger *slog.Logger,
) *Service {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		repo:       repo,
		gateway:    gw,
		calculator: calculator,
		preparer:   preparer,
		poller:     poller,
		handler:    handler,
		publisher:  publisher,
		logger:     logger,
		bgCtx:      bgCtx,
		bgCancel:   bgCancel,
	}
}

// Quote prices a cart without touching the gateway.
func (s *Service) Quote(ctx context.Context, items []pricing.LineItem, discountCode string) (*pricing.Calculation, error) {
	return s.calculator.Calculate(ctx, items, discountCode)
}

// Checkout prices the cart, persists a PENDING transaction and submits it
// to the gateway. A rejected submission is persisted as ERROR and returned
// together with ErrGatewaySubmissionFailed.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	calc, err := s.calculator.Calculate(ctx, req.Items, req.DiscountCode)
	if err != nil {
		return nil, err
	}

	prepared, err := s.preparer.Prepare(ctx, PrepareInput{
		TotalInCents:   calc.TotalInCents,
		Currency:       s.cfg.Currency(),
		DeclaredAmount: req.DeclaredAmount,
	})
	if err != nil {
		return nil, err
	}

	tx, err := domain.NewTransaction(domain.NewTransactionParams{
		ID:                  ulid.Make().String(),
		CustomerID:          req.CustomerID,
		CustomerEmail:       req.CustomerEmail,
		AmountInCents:       prepared.Amount.AmountMinor,
		Currency:            prepared.Amount.Currency,
		Reference:           prepared.Reference,
		AcceptanceToken:     prepared.AcceptanceToken,
		PersonalAuthToken:   prepared.PersonalAuthToken,
		PaymentMethod:       domain.PaymentMethod{Type: req.PaymentMethod.Type, Installments: req.PaymentMethod.Installments},
		CustomerFullName:    req.CustomerFullName,
		CustomerPhoneNumber: req.CustomerPhoneNumber,
		ShippingAddress:     req.ShippingAddress,
		Metadata:            checkoutMetadata(req.Items, calc, prepared.Amount.AmountMinor),
	})
	if err != nil {
		return nil, fmt.Errorf("building transaction: %w", err)
	}

	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}

	s.logger.Info("transaction created",
		"transaction_id", tx.ID,
		"reference", tx.Reference,
		"amount_in_cents", tx.AmountInCents,
		"currency", tx.Currency,
	)
	s.publish(ctx, events.EventTransactionCreated, tx.ID, events.TransactionCreatedData{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		CustomerEmail: tx.CustomerEmail,
		AmountInCents: tx.AmountInCents,
		Currency:      string(tx.Currency),
		Status:        string(tx.Status),
	})

	created, submitErr := s.gateway.CreateTransaction(ctx, s.gatewayRequest(tx, req))
	if submitErr != nil {
		s.logger.Error("gateway submission failed",
			"transaction_id", tx.ID,
			"reference", tx.Reference,
			"error", submitErr,
		)
		failed, err := s.ApplyStatus(ctx, tx.ID, domain.StatusUpdate{
			Status:       domain.StatusError,
			ErrorMessage: domain.Set(submitErr.Error()),
		})
		if err != nil {
			return nil, fmt.Errorf("recording submission failure: %w", err)
		}
		return &CheckoutResult{Transaction: failed, Pricing: calc}, fmt.Errorf("%w: %w", ErrGatewaySubmissionFailed, submitErr)
	}

	submitted, err := s.applyGateway(ctx, tx.ID, created.Status, func(*domain.Transaction) domain.StatusUpdate {
		update := domain.StatusUpdate{
			Status:               MapGatewayStatus(created.Status),
			GatewayTransactionID: domain.Set(created.ID),
		}
		if created.RedirectURL != "" {
			update.RedirectURL = domain.Set(created.RedirectURL)
		}
		if created.PaymentLinkID != "" {
			update.PaymentLinkID = domain.Set(created.PaymentLinkID)
		}
		return update
	})
	if err != nil {
		return nil, fmt.Errorf("recording submission: %w", err)
	}

	s.logger.Info("transaction submitted",
		"transaction_id", submitted.ID,
		"gateway_id", submitted.GatewayTransactionID,
		"status", submitted.Status,
	)

	if s.cfg.AutoConfirm && submitted.Status == domain.StatusPending {
		s.confirmInBackground(submitted.ID)
	}

	return &CheckoutResult{Transaction: submitted, Pricing: calc}, nil
}

// Confirm polls the gateway and applies the resolved status. A transaction
// still pending after the poll budget is returned unchanged.
func (s *Service) Confirm(ctx context.Context, transactionID string, opts PollOptions) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return tx, nil
	}
	if tx.GatewayTransactionID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotSubmitted, tx.ID)
	}

	result := s.poller.Poll(ctx, tx.GatewayTransactionID, opts)
	if result.Err != nil {
		s.logger.Warn("confirmation poll failed",
			"transaction_id", tx.ID,
			"gateway_id", tx.GatewayTransactionID,
			"error", result.Err,
		)
	}
	if result.Status == domain.StatusPending {
		return tx, nil
	}

	updated, err := s.applyGateway(ctx, tx.ID, "", func(*domain.Transaction) domain.StatusUpdate {
		return resolvedUpdate(result.Status, "", result.StatusMessage)
	})
	if err != nil {
		var transitionErr *domain.InvalidTransitionError
		if errors.As(err, &transitionErr) {
			return s.Get(ctx, transactionID)
		}
		return nil, err
	}
	return updated, nil
}

// ApplyStatus is the single guarded write path for status changes. It
// re-reads the transaction, rejects updates to terminal transactions and
// retries when a concurrent writer bumped the version first.
func (s *Service) ApplyStatus(ctx context.Context, transactionID string, update domain.StatusUpdate) (*domain.Transaction, error) {
	return s.transition(ctx, transactionID, func(*domain.Transaction) domain.StatusUpdate { return update })
}

// ApplyGatewayStatus maps a gateway status, applies it and runs the
// post-payment handler when this call resolved the transaction.
func (s *Service) ApplyGatewayStatus(ctx context.Context, transactionID string, status gateway.Status, gatewayID, message string) (*domain.Transaction, error) {
	return s.applyGateway(ctx, transactionID, status, func(*domain.Transaction) domain.StatusUpdate {
		return resolvedUpdate(MapGatewayStatus(status), gatewayID, message)
	})
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return tx, nil
}

// GetByReference returns a transaction by its order reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	tx, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, notFound(err, reference)
	}
	return tx, nil
}

// ListByCustomerEmail returns the customer's most recent transactions.
func (s *Service) ListByCustomerEmail(ctx context.Context, email string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.FindByCustomerEmail(ctx, email, limit)
}

// Wait blocks until background confirmations finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels background confirmations and waits for them.
func (s *Service) Close() {
	s.bgCancel()
	s.wg.Wait()
}

func (s *Service) applyGateway(ctx context.Context, transactionID string, vendorStatus gateway.Status, build func(*domain.Transaction) domain.StatusUpdate) (*domain.Transaction, error) {
	tx, err := s.transition(ctx, transactionID, build)
	if err != nil {
		return nil, err
	}

	if vendorStatus != "" && MapGatewayStatus(vendorStatus) == domain.StatusError && vendorStatus != gateway.StatusError {
		s.logger.Warn("unknown gateway status mapped to ERROR",
			"transaction_id", tx.ID,
			"gateway_status", vendorStatus,
		)
	}

	if tx.Status.IsTerminal() {
		s.runPostPayment(ctx, tx)
	}
	return tx, nil
}

// transition only returns a snapshot when this call's write won; the
// caller may therefore run side effects exactly once.
func (s *Service) transition(ctx context.Context, transactionID string, build func(*domain.Transaction) domain.StatusUpdate) (*domain.Transaction, error) {
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		current, err := s.repo.FindByID(ctx, transactionID)
		if err != nil {
			return nil, notFound(err, transactionID)
		}

		next, err := current.UpdateStatus(build(current))
		if err != nil {
			return nil, err
		}

		err = s.repo.Update(ctx, next)
		if errors.Is(err, database.ErrConflict) {
			s.logger.Debug("transaction version conflict, retrying",
				"transaction_id", transactionID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, notFound(err, transactionID)
		}

		s.logger.Info("transaction status updated",
			"transaction_id", next.ID,
			"previous_status", current.Status,
			"status", next.Status,
		)
		s.publish(ctx, events.EventTransactionUpdated, next.ID, events.TransactionUpdatedData{
			TransactionID:        next.ID,
			Reference:            next.Reference,
			PreviousStatus:       string(current.Status),
			Status:               string(next.Status),
			GatewayTransactionID: next.GatewayTransactionID,
			ErrorMessage:         next.ErrorMessage,
		})
		return next, nil
	}

	return nil, fmt.Errorf("updating transaction %s: %w", transactionID, database.ErrConflict)
}

func (s *Service) runPostPayment(ctx context.Context, tx *domain.Transaction) {
	if s.handler == nil {
		return
	}
	if err := s.handler.Handle(ctx, tx, tx.LineItems()); err != nil {
		s.logger.Error("post-payment handling failed",
			"transaction_id", tx.ID,
			"reference", tx.Reference,
			"status", tx.Status,
			"error", err,
		)
	}
}

func (s *Service) confirmInBackground(transactionID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := s.bgCtx
		if s.cfg.AutoConfirmDeadline > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.AutoConfirmDeadline)
			defer cancel()
		}

		tx, err := s.Confirm(ctx, transactionID, s.cfg.PollOptions())
		if err != nil {
			s.logger.Error("background confirmation failed",
				"transaction_id", transactionID,
				"error", err,
			)
			return
		}
		s.logger.Info("background confirmation finished",
			"transaction_id", transactionID,
			"status", tx.Status,
		)
	}()
}

func (s *Service) gatewayRequest(tx *domain.Transaction, req CheckoutRequest) *gateway.CreateTransactionRequest {
	redirectURL := req.RedirectURL
	if redirectURL == "" {
		redirectURL = s.cfg.RedirectURL
	}

	gwReq := &gateway.CreateTransactionRequest{
		AcceptanceToken:    tx.AcceptanceToken,
		AcceptPersonalAuth: tx.PersonalAuthToken,
		AmountInCents:      tx.AmountInCents,
		Currency:           string(tx.Currency),
		CustomerEmail:      tx.CustomerEmail,
		Reference:          tx.Reference,
		PaymentMethod:      req.PaymentMethod,
		RedirectURL:        redirectURL,
	}
	if tx.CustomerFullName != "" || tx.CustomerPhoneNumber != "" {
		gwReq.CustomerData = &gateway.CustomerData{
			FullName:    tx.CustomerFullName,
			PhoneNumber: tx.CustomerPhoneNumber,
		}
	}
	if a := tx.ShippingAddress; a != nil {
		gwReq.ShippingAddress = &gateway.ShippingAddress{
			AddressLine1: a.AddressLine1,
			AddressLine2: a.AddressLine2,
			Country:      a.Country,
			Region:       a.Region,
			City:         a.City,
			PostalCode:   a.PostalCode,
			PhoneNumber:  tx.CustomerPhoneNumber,
			Name:         tx.CustomerFullName,
		}
	}
	return gwReq
}

func (s *Service) publish(ctx context.Context, eventType, aggregateID string, data interface{}) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, events.AggregateTransaction, aggregateID, data)
	if err != nil {
		s.logger.Error("building event", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event", "type", eventType, "event_id", event.ID, "error", err)
	}
}

func resolvedUpdate(status domain.Status, gatewayID, message string) domain.StatusUpdate {
	update := domain.StatusUpdate{Status: status}
	if gatewayID != "" {
		update.GatewayTransactionID = domain.Set(gatewayID)
	}
	if status == domain.StatusError && message != "" {
		update.ErrorMessage = domain.Set(message)
	}
	return update
}

func checkoutMetadata(items []pricing.LineItem, calc *pricing.Calculation, adjusted int64) *domain.Metadata {
	md := &domain.Metadata{
		Items: make([]domain.LineItem, 0, len(items)),
		Pricing: &domain.PriceSummary{
			SubtotalInCents:     calc.SubtotalInCents,
			DiscountInCents:     calc.DiscountInCents,
			TotalInCents:        calc.TotalInCents,
			AdjustedInCents:     adjusted,
			AppliedDiscountCode: calc.AppliedDiscountCode,
			Lines:               make([]domain.PricedLine, 0, len(calc.Lines)),
		},
	}
	for _, item := range items {
		md.Items = append(md.Items, domain.LineItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	for _, line := range calc.Lines {
		md.Pricing.Lines = append(md.Pricing.Lines, domain.PricedLine{
			ProductID:        line.ProductID,
			ProductName:      line.ProductName,
			UnitPriceInCents: line.UnitPriceInCents,
			Quantity:         line.Quantity,
			LineTotalInCents: line.LineTotalInCents,
		})
	}
	return md
}

func notFound(err error, key string) error {
	if database.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, key)
	}
	return err
}
