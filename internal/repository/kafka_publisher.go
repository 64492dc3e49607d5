package repository

import (
	"context"
	"strconv"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	pkgkafka "SignalHub/pkg/kafka"
)

// recordProducer is the part of *pkgkafka.Producer the publisher uses.
type recordProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value any, headers ...pkgkafka.Header) error
	Close() error
}

// KafkaTransmissionPublisher writes terminal delivery records to the audit
// topic, keyed by signal id so records of one signal stay ordered.
type KafkaTransmissionPublisher struct {
	producer recordProducer
	topic    string
}

func NewKafkaTransmissionPublisher(producer *pkgkafka.Producer, topic string) *KafkaTransmissionPublisher {
	p := &KafkaTransmissionPublisher{topic: topic}
	if producer != nil {
		p.producer = producer
	}
	return p
}

func (p *KafkaTransmissionPublisher) PublishTransmission(ctx context.Context, rec models.DeliveryRecord) error {
	return p.producer.Publish(ctx, p.topic, []byte(strconv.FormatInt(rec.SignalID, 10)), rec,
		pkgkafka.Header{Key: "destination", Value: []byte(rec.Destination)},
		pkgkafka.Header{Key: "status", Value: []byte(rec.Status)},
	)
}

func (p *KafkaTransmissionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.TransmissionPublisher = (*KafkaTransmissionPublisher)(nil)
