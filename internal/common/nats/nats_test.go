package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"checkoutpay/internal/common/events"
)

func TestSubjectsAreCapturedByEventStream(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{events.EventTransactionCreated, "events.payments.transaction.created"},
		{events.EventTransactionUpdated, "events.payments.transaction.updated"},
		{events.EventDeliveryCreated, "events.fulfillment.delivery.created"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.eventType))
	}
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig(EventStream, EventSubjects)
	assert.Equal(t, "CHECKOUTPAY_EVENTS", cfg.Name)
	assert.Equal(t, 1, cfg.Replicas)
	assert.ElementsMatch(t, []string{"events.payments.>", "events.fulfillment.>"}, cfg.Subjects)
}
