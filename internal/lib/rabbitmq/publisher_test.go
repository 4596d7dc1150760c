package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regexgpt/regexgpt/internal/models"
)

func TestPublisher_PublishPaymentIssue(t *testing.T) {
	amqpURI := amqpURIForTest(t)

	conn, err := Connect(context.Background(), amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ch, err := SetupChannel(conn, GetNotificationQueues())
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	issue := models.PaymentIssue{
		UserID:     "U1",
		Email:      "u@example.com",
		CustomerID: "cus_1",
		InvoiceID:  "in_1",
		EventType:  "invoice.payment_failed",
	}
	require.NoError(t, NewPublisher(ch).PublishPaymentIssue(context.Background(), issue))

	deliveries, err := ch.Consume(QueuePaymentFailed, "test-consumer", true, false, false, false, nil)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		var got models.PaymentIssue
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, issue, got)
		assert.Equal(t, "application/json", d.ContentType)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishMessage_MarshalError(t *testing.T) {
	badMsg := struct {
		Ch chan int `json:"ch"`
	}{
		Ch: make(chan int),
	}

	err := PublishMessage(nil, "", "queue", badMsg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq.PublishMessage")
}

func TestPublisher_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPublisher(nil).PublishPaymentIssue(ctx, models.PaymentIssue{})
	require.ErrorIs(t, err, context.Canceled)
}
