package events

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event, err := NewEvent(EventTransactionUpdated, AggregateTransaction, "tx_1", TransactionUpdatedData{
		TransactionID:  "tx_1",
		Reference:      "ORD-1",
		PreviousStatus: "PENDING",
		Status:         "APPROVED",
	})
	require.NoError(t, err)

	assert.Len(t, event.ID, 26)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, "tx_1", event.AggregateID)
	assert.False(t, event.OccurredAt.IsZero())

	var data TransactionUpdatedData
	require.NoError(t, event.DecodeData(&data))
	assert.Equal(t, "APPROVED", data.Status)
	assert.Equal(t, "ORD-1", data.Reference)

	assert.Equal(t, "corr-1", event.WithCorrelation("corr-1").CorrelationID)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	event, err := NewEvent(EventDeliveryCreated, AggregateDelivery, "dl_1", DeliveryCreatedData{DeliveryID: "dl_1"})
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), event))
}
