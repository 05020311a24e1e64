package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment"
	"checkoutpay/internal/payment/domain"
)

type fakeUpdater struct {
	mu      sync.Mutex
	txs     map[string]*domain.Transaction
	applied []gateway.Status
	findErr error
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{txs: map[string]*domain.Transaction{
		"ORD-1": {ID: "tx_1", Reference: "ORD-1", Status: domain.StatusPending},
	}}
}

func (f *fakeUpdater) GetByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	tx, ok := f.txs[reference]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (f *fakeUpdater) ApplyGatewayStatus(_ context.Context, id string, status gateway.Status, _, _ string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.ID != id {
			continue
		}
		next, err := tx.UpdateStatus(domain.StatusUpdate{Status: payment.MapGatewayStatus(status)})
		if err != nil {
			return nil, err
		}
		f.txs[tx.Reference] = next
		f.applied = append(f.applied, status)
		return next, nil
	}
	return nil, payment.ErrTransactionNotFound
}

func (f *fakeUpdater) Applied() []gateway.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Status(nil), f.applied...)
}

func testConfig() Config {
	return Config{
		EventsSecret:     testSecret,
		EnforceSignature: true,
		DedupeTTL:        time.Hour,
	}
}

func newTestProcessor(cfg Config, updater TransactionUpdater) *Processor {
	return NewProcessor(cfg, updater, NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcess_AppliesVerifiedUpdate(t *testing.T) {
	updater := newFakeUpdater()
	p := newTestProcessor(testConfig(), updater)

	result, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, "ORD-1", result.Reference)
	assert.Equal(t, "1234-1610641025-49201", result.GatewayID)
	assert.Equal(t, domain.StatusApproved, result.Transaction.Status)
	assert.Equal(t, []gateway.Status{gateway.StatusApproved}, updater.Applied())
}

func TestProcess_DuplicateDeliveryShortCircuits(t *testing.T) {
	updater := newFakeUpdater()
	p := newTestProcessor(testConfig(), updater)

	_, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.NoError(t, err)
	result, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeDuplicate, result.Outcome)
	assert.Len(t, updater.Applied(), 1)
}

func TestProcess_FinalTransactionAcknowledged(t *testing.T) {
	updater := newFakeUpdater()
	updater.txs["ORD-1"].Status = domain.StatusDeclined
	p := NewProcessor(testConfig(), updater, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyFinal, result.Outcome)
	assert.Empty(t, updater.Applied())
}

func TestProcess_UnknownTransactionAcknowledged(t *testing.T) {
	updater := newFakeUpdater()
	delete(updater.txs, "ORD-1")
	p := newTestProcessor(testConfig(), updater)

	result, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransactionNotFound, result.Outcome)
}

func TestProcess_EnforcedSignatureRejects(t *testing.T) {
	updater := newFakeUpdater()
	p := newTestProcessor(testConfig(), updater)

	result, err := p.Process(context.Background(), []byte(approvedBody), strings.Repeat("0", 64))
	require.Error(t, err)
	assert.True(t, IsSignatureError(err))
	require.NotNil(t, result)
	assert.Equal(t, OutcomeSignatureRejected, result.Outcome)
	assert.False(t, result.SignatureValid)
	assert.Empty(t, updater.Applied())
}

func TestProcess_UnenforcedSignatureFailureIsRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.EnforceSignature = false
	updater := newFakeUpdater()
	p := newTestProcessor(cfg, updater)

	result, err := p.Process(context.Background(), []byte(approvedBody), strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.False(t, result.SignatureValid)
	assert.ErrorIs(t, result.SignatureErr, ErrSignatureMismatch)
}

func TestProcess_SkipVerification(t *testing.T) {
	cfg := testConfig()
	cfg.SkipVerification = true
	cfg.EventsSecret = ""
	updater := newFakeUpdater()
	p := newTestProcessor(cfg, updater)

	result, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.NoError(t, result.SignatureErr)
}

func TestProcess_OtherEventsIgnored(t *testing.T) {
	updater := newFakeUpdater()
	p := newTestProcessor(testConfig(), updater)

	body := strings.Replace(approvedBody, `"event": "transaction.updated"`, `"event": "nequi_token.updated"`, 1)
	result, err := p.Process(context.Background(), []byte(body), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)
	assert.Empty(t, updater.Applied())
}

func TestProcess_InvalidPayload(t *testing.T) {
	p := newTestProcessor(testConfig(), newFakeUpdater())

	for _, body := range []string{`not json`, `{"data":{}}`, ``} {
		_, err := p.Process(context.Background(), []byte(body), "")
		assert.ErrorIs(t, err, ErrInvalidPayload, "body %q", body)
	}
}

func TestProcess_LookupFailureReleasesDedupeKey(t *testing.T) {
	updater := newFakeUpdater()
	updater.findErr = errors.New("database unavailable")
	p := newTestProcessor(testConfig(), updater)

	_, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.Error(t, err)

	updater.findErr = nil
	result, err := p.Process(context.Background(), []byte(approvedBody), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
}
