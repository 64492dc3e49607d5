package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"SignalHub/internal/domain/models"
	pkgkafka "SignalHub/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedRecord struct {
	topic   string
	key     []byte
	value   any
	headers []pkgkafka.Header
}

type fakeProducer struct {
	sent   []publishedRecord
	err    error
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value any, headers ...pkgkafka.Header) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, publishedRecord{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaTransmissionPublisherKeysBySignal(t *testing.T) {
	fake := &fakeProducer{}
	p := &KafkaTransmissionPublisher{producer: fake, topic: "signalhub.transmissions"}

	resp := "message_id=77"
	rec := models.DeliveryRecord{
		ID:                 9,
		SignalID:           4021,
		Destination:        models.DestinationDiscord,
		DestinationAddress: "chan-1",
		Attempt:            2,
		Status:             models.DeliverySent,
		Response:           &resp,
		SentAt:             time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishTransmission(context.Background(), rec))

	require.Len(t, fake.sent, 1)
	got := fake.sent[0]
	assert.Equal(t, "signalhub.transmissions", got.topic)
	assert.Equal(t, "4021", string(got.key))
	require.Len(t, got.headers, 2)
	assert.Equal(t, "destination", got.headers[0].Key)
	assert.Equal(t, "discord", string(got.headers[0].Value))
	assert.Equal(t, "status", got.headers[1].Key)
	assert.Equal(t, "sent", string(got.headers[1].Value))

	body, err := json.Marshal(got.value)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 9,
		"signalId": 4021,
		"destination": "discord",
		"destinationId": "chan-1",
		"attempt": 2,
		"status": "sent",
		"response": "message_id=77",
		"sentAt": "2025-03-01T12:00:00Z"
	}`, string(body))
}

func TestKafkaTransmissionPublisherPassesErrors(t *testing.T) {
	boom := errors.New("leader not available")
	p := &KafkaTransmissionPublisher{producer: &fakeProducer{err: boom}, topic: "t"}

	err := p.PublishTransmission(context.Background(), models.DeliveryRecord{SignalID: 1, Status: models.DeliveryFailed})
	assert.ErrorIs(t, err, boom)
}

func TestKafkaTransmissionPublisherClose(t *testing.T) {
	fake := &fakeProducer{}
	p := &KafkaTransmissionPublisher{producer: fake, topic: "t"}
	require.NoError(t, p.Close())
	assert.True(t, fake.closed)

	// no producer configured
	assert.NoError(t, NewKafkaTransmissionPublisher(nil, "t").Close())
}
