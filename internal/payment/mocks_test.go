package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"checkoutpay/internal/common/events"
	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) GetMerchant(ctx context.Context) (*gateway.Merchant, error) {
	args := m.Called(ctx)
	merchant, _ := args.Get(0).(*gateway.Merchant)
	return merchant, args.Error(1)
}

func (m *mockGateway) CreateTransaction(ctx context.Context, req *gateway.CreateTransactionRequest) (*gateway.CreatedTransaction, error) {
	args := m.Called(ctx, req)
	created, _ := args.Get(0).(*gateway.CreatedTransaction)
	return created, args.Error(1)
}

func (m *mockGateway) GetTransaction(ctx context.Context, gatewayID string) (*gateway.TransactionStatus, error) {
	args := m.Called(ctx, gatewayID)
	status, _ := args.Get(0).(*gateway.TransactionStatus)
	return status, args.Error(1)
}

func testMerchant() *gateway.Merchant {
	return &gateway.Merchant{
		ID:                        1,
		Name:                      "Test store",
		PresignedAcceptance:       gateway.PresignedToken{AcceptanceToken: "acc_tok"},
		PresignedPersonalDataAuth: gateway.PresignedToken{AcceptanceToken: "auth_tok"},
	}
}

func gatewayStatus(id string, status gateway.Status) *gateway.TransactionStatus {
	return &gateway.TransactionStatus{ID: id, Status: status}
}

// recordingSleeper returns immediately and records the requested delays.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// countingHandler records post-payment invocations.
type countingHandler struct {
	mu    sync.Mutex
	calls []domain.Status
	items [][]domain.LineItem
	err   error
}

func (h *countingHandler) Handle(_ context.Context, tx *domain.Transaction, items []domain.LineItem) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, tx.Status)
	h.items = append(h.items, items)
	return h.err
}

func (h *countingHandler) Calls() []domain.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Status(nil), h.calls...)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *capturePublisher) Publish(_ context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
