package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"checkoutpay/internal/catalog"
	"checkoutpay/internal/common/events"
	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment/domain"
	"checkoutpay/internal/payment/store"
	"checkoutpay/internal/pricing"
)

type serviceFixture struct {
	svc       *Service
	gw        *mockGateway
	repo      *store.MemoryStore
	handler   *countingHandler
	publisher *capturePublisher
	sleeper   *recordingSleeper
}

func newServiceFixture(t *testing.T, autoConfirm bool) *serviceFixture {
	t.Helper()

	products := catalog.NewMemoryStore()
	products.PutProduct(catalog.Product{ID: "p1", Name: "Headphones", Price: decimal.NewFromInt(399999), Stock: 3})
	products.PutProduct(catalog.Product{ID: "p2", Name: "Cable", Price: decimal.NewFromInt(25000), Stock: 1})
	discount, err := catalog.NewDiscountCode("dc_10", "TEN", 10)
	require.NoError(t, err)
	products.PutDiscount(*discount)

	logger := testLogger()
	gw := &mockGateway{}
	repo := store.NewMemoryStore()
	handler := &countingHandler{}
	publisher := &capturePublisher{}
	sleeper := &recordingSleeper{}

	cfg := Config{
		HomeCurrency:     "COP",
		ReferencePrefix:  "ORD",
		PollMaxAttempts:  3,
		PollInitialDelay: time.Millisecond,
		PollExponential:  true,
		AutoConfirm:      autoConfirm,
		RedirectURL:      "https://shop.example.com/result",
	}

	svc := NewService(
		cfg,
		repo,
		gw,
		pricing.NewCalculator(products, products, logger),
		NewPreparer(gw, cfg.ReferencePrefix, logger),
		NewPoller(gw, sleeper, time.Second, logger),
		handler,
		publisher,
		logger,
	)
	t.Cleanup(svc.Close)

	return &serviceFixture{svc: svc, gw: gw, repo: repo, handler: handler, publisher: publisher, sleeper: sleeper}
}

func checkoutRequest() CheckoutRequest {
	return CheckoutRequest{
		CustomerEmail:       "buyer@example.com",
		Items:               []pricing.LineItem{{ProductID: "p1", Quantity: 1}},
		DiscountCode:        "dc_10",
		PaymentMethod:       gateway.PaymentMethod{Type: "CARD", Token: "tok_test_123", Installments: 1},
		CustomerFullName:    "Ana Gomez",
		CustomerPhoneNumber: "3001234567",
		ShippingAddress:     &domain.ShippingAddress{AddressLine1: "Calle 1 # 2-3", City: "Bogota", Region: "Cundinamarca", Country: "CO"},
	}
}

// submitted creates a PENDING transaction with gateway id gw_1.
func (f *serviceFixture) submitted(t *testing.T) *domain.Transaction {
	t.Helper()
	f.gw.On("GetMerchant", mock.Anything).Return(testMerchant(), nil).Once()
	f.gw.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(&gateway.CreatedTransaction{ID: "gw_1", Status: gateway.StatusPending}, nil).Once()

	res, err := f.svc.Checkout(context.Background(), checkoutRequest())
	require.NoError(t, err)
	return res.Transaction
}

func TestCheckout_PersistsPendingTransaction(t *testing.T) {
	f := newServiceFixture(t, false)

	f.gw.On("GetMerchant", mock.Anything).Return(testMerchant(), nil).Once()
	f.gw.On("CreateTransaction", mock.Anything, mock.MatchedBy(func(req *gateway.CreateTransactionRequest) bool {
		return req.AmountInCents == 360000 &&
			req.Currency == "COP" &&
			req.AcceptanceToken == "acc_tok" &&
			req.AcceptPersonalAuth == "auth_tok" &&
			req.PaymentMethod.Token == "tok_test_123" &&
			req.RedirectURL == "https://shop.example.com/result" &&
			req.ShippingAddress != nil && req.ShippingAddress.City == "Bogota"
	})).Return(&gateway.CreatedTransaction{
		ID:          "gw_1",
		Status:      gateway.StatusPending,
		RedirectURL: "https://gateway.example.com/3ds",
	}, nil).Once()

	res, err := f.svc.Checkout(context.Background(), checkoutRequest())
	require.NoError(t, err)

	tx := res.Transaction
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, int64(360000), tx.AmountInCents)
	assert.Equal(t, "gw_1", tx.GatewayTransactionID)
	assert.Equal(t, "https://gateway.example.com/3ds", tx.RedirectURL)
	assert.Equal(t, []domain.LineItem{{ProductID: "p1", Quantity: 1}}, tx.LineItems())
	assert.Equal(t, int64(39999), tx.Metadata.Pricing.DiscountInCents)
	assert.Equal(t, int64(360000), res.Pricing.TotalInCents)

	stored, err := f.svc.GetByReference(context.Background(), tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, "gw_1", stored.GatewayTransactionID)

	assert.Equal(t, []string{events.EventTransactionCreated, events.EventTransactionUpdated}, f.publisher.Types())
	assert.Empty(t, f.handler.Calls())
	f.gw.AssertExpectations(t)
}

func TestCheckout_GatewayRejectionPersistsError(t *testing.T) {
	f := newServiceFixture(t, true)

	f.gw.On("GetMerchant", mock.Anything).Return(testMerchant(), nil).Once()
	f.gw.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(nil, &gateway.APIError{StatusCode: 422, Type: "INPUT_VALIDATION_ERROR", Reason: "invalid token"}).Once()

	res, err := f.svc.Checkout(context.Background(), checkoutRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewaySubmissionFailed)
	assert.ErrorIs(t, err, gateway.ErrGateway)

	require.NotNil(t, res)
	assert.Equal(t, domain.StatusError, res.Transaction.Status)
	assert.Contains(t, res.Transaction.ErrorMessage, "invalid token")

	stored, err := f.svc.Get(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)

	f.svc.Wait()
	f.gw.AssertNotCalled(t, "GetTransaction", mock.Anything, mock.Anything)
}

func TestCheckout_InsufficientStockNeverReachesGateway(t *testing.T) {
	f := newServiceFixture(t, false)

	req := checkoutRequest()
	req.Items = []pricing.LineItem{{ProductID: "p2", Quantity: 2}}

	_, err := f.svc.Checkout(context.Background(), req)

	var stockErr *catalog.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)
	f.gw.AssertNotCalled(t, "GetMerchant", mock.Anything)
	f.gw.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
}

func TestCheckout_ImmediatelyApprovedRunsHandler(t *testing.T) {
	f := newServiceFixture(t, true)

	f.gw.On("GetMerchant", mock.Anything).Return(testMerchant(), nil).Once()
	f.gw.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(&gateway.CreatedTransaction{ID: "gw_1", Status: gateway.StatusApproved}, nil).Once()

	res, err := f.svc.Checkout(context.Background(), checkoutRequest())
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, domain.StatusApproved, res.Transaction.Status)
	assert.Equal(t, []domain.Status{domain.StatusApproved}, f.handler.Calls())
	f.gw.AssertNotCalled(t, "GetTransaction", mock.Anything, mock.Anything)
}

func TestCheckout_AutoConfirmInBackground(t *testing.T) {
	f := newServiceFixture(t, true)

	f.gw.On("GetMerchant", mock.Anything).Return(testMerchant(), nil).Once()
	f.gw.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(&gateway.CreatedTransaction{ID: "gw_1", Status: gateway.StatusPending}, nil).Once()
	f.gw.On("GetTransaction", mock.Anything, "gw_1").Return(gatewayStatus("gw_1", gateway.StatusPending), nil).Once()
	f.gw.On("GetTransaction", mock.Anything, "gw_1").Return(gatewayStatus("gw_1", gateway.StatusApproved), nil).Once()

	res, err := f.svc.Checkout(context.Background(), checkoutRequest())
	require.NoError(t, err)
	f.svc.Wait()

	stored, err := f.svc.Get(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Equal(t, []domain.Status{domain.StatusApproved}, f.handler.Calls())
}

func TestConfirm_AppliesResolvedStatusOnce(t *testing.T) {
	f := newServiceFixture(t, false)
	tx := f.submitted(t)

	f.gw.On("GetTransaction", mock.Anything, "gw_1").Return(gatewayStatus("gw_1", gateway.StatusApproved), nil).Once()

	confirmed, err := f.svc.Confirm(context.Background(), tx.ID, f.svc.cfg.PollOptions())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, confirmed.Status)

	again, err := f.svc.Confirm(context.Background(), tx.ID, f.svc.cfg.PollOptions())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, again.Status)

	require.Len(t, f.handler.Calls(), 1)
	assert.Equal(t, []domain.LineItem{{ProductID: "p1", Quantity: 1}}, f.handler.items[0])
	f.gw.AssertNumberOfCalls(t, "GetTransaction", 1)
}

func TestConfirm_StillPendingLeavesTransactionUnchanged(t *testing.T) {
	f := newServiceFixture(t, false)
	tx := f.submitted(t)

	f.gw.On("GetTransaction", mock.Anything, "gw_1").Return(gatewayStatus("gw_1", gateway.StatusPending), nil)

	confirmed, err := f.svc.Confirm(context.Background(), tx.ID, f.svc.cfg.PollOptions())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, confirmed.Status)
	assert.Equal(t, tx.Version, confirmed.Version)
	assert.Empty(t, f.handler.Calls())
	f.gw.AssertNumberOfCalls(t, "GetTransaction", 3)
}

func TestConfirm_UnreachableGatewayRecordsError(t *testing.T) {
	f := newServiceFixture(t, false)
	tx := f.submitted(t)

	f.gw.On("GetTransaction", mock.Anything, "gw_1").Return(nil, gateway.ErrCircuitOpen)

	confirmed, err := f.svc.Confirm(context.Background(), tx.ID, f.svc.cfg.PollOptions())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, confirmed.Status)
	assert.Empty(t, f.handler.Calls())

	// ERROR is not final; a later authoritative status still applies.
	approved, err := f.svc.ApplyGatewayStatus(context.Background(), tx.ID, gateway.StatusApproved, "gw_1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, []domain.Status{domain.StatusApproved}, f.handler.Calls())
}

func TestConfirm_NotSubmitted(t *testing.T) {
	f := newServiceFixture(t, false)

	tx, err := domain.NewTransaction(domain.NewTransactionParams{
		ID: "tx_1", CustomerEmail: "a@x.co", AmountInCents: 10000, Currency: "COP", Reference: "ORD-1",
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), tx))

	_, err = f.svc.Confirm(context.Background(), "tx_1", DefaultPollOptions())
	assert.ErrorIs(t, err, ErrNotSubmitted)
}

func TestApplyStatus_TerminalTransactionRejected(t *testing.T) {
	f := newServiceFixture(t, false)
	tx := f.submitted(t)

	_, err := f.svc.ApplyGatewayStatus(context.Background(), tx.ID, gateway.StatusDeclined, "gw_1", "")
	require.NoError(t, err)

	_, err = f.svc.ApplyStatus(context.Background(), tx.ID, domain.StatusUpdate{Status: domain.StatusApproved})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := f.svc.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, stored.Status)
	assert.Equal(t, []domain.Status{domain.StatusDeclined}, f.handler.Calls())
}

func TestApplyStatus_UnknownTransaction(t *testing.T) {
	f := newServiceFixture(t, false)

	_, err := f.svc.ApplyStatus(context.Background(), "missing", domain.StatusUpdate{Status: domain.StatusApproved})
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestApplyGatewayStatus_ErrorKeepsMessage(t *testing.T) {
	f := newServiceFixture(t, false)
	tx := f.submitted(t)

	updated, err := f.svc.ApplyGatewayStatus(context.Background(), tx.ID, gateway.StatusError, "gw_1", "issuer unavailable")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, updated.Status)
	assert.Equal(t, "issuer unavailable", updated.ErrorMessage)
	assert.Equal(t, tx.RedirectURL, updated.RedirectURL)
}

func TestApplyGatewayStatus_ConcurrentResolutionRunsHandlerOnce(t *testing.T) {
	f := newServiceFixture(t, false)
	tx := f.submitted(t)

	const racers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners, rejected int
	start := make(chan struct{})

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.ApplyGatewayStatus(context.Background(), tx.ID, gateway.StatusApproved, "gw_1", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, domain.ErrInvalidTransition):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, racers-1, rejected)
	assert.Equal(t, []domain.Status{domain.StatusApproved}, f.handler.Calls())
}

func TestApplyGatewayStatus_HandlerFailureDoesNotUndoStatus(t *testing.T) {
	f := newServiceFixture(t, false)
	tx := f.submitted(t)
	f.handler.err = catalog.ErrInsufficientStock

	updated, err := f.svc.ApplyGatewayStatus(context.Background(), tx.ID, gateway.StatusApproved, "gw_1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, updated.Status)

	stored, err := f.svc.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
}

func TestListByCustomerEmail(t *testing.T) {
	f := newServiceFixture(t, false)
	f.submitted(t)

	txs, err := f.svc.ListByCustomerEmail(context.Background(), "buyer@example.com", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
