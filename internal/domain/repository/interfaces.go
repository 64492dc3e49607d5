package repository

import (
	"context"
	"errors"
	"iter"

	"SignalHub/internal/domain/models"
)

var ErrSignalNotFound = errors.New("signal not found")

// SignalStore is the read side of the authoritative signal store.
type SignalStore interface {
	ListSignals(ctx context.Context, f models.SignalFilter) ([]models.Signal, int64, error)
	GetSignal(ctx context.Context, id int64) (models.Signal, error)
}

// SignalWriter is implemented by stores the hub is allowed to populate itself.
type SignalWriter interface {
	SaveSignal(ctx context.Context, s models.Signal) error
}

// Ledger is the append-only history of delivery attempts.
//
// Append with a zero ID allocates an ID and stores a new record. Append with
// the ID of a pending record and a terminal status completes that attempt;
// every pending record can be completed exactly once.
//
// Query returns a lazy sequence ordered by SentAt descending. Every range over
// the sequence reads the ledger again.
type Ledger interface {
	Append(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error)
	Query(ctx context.Context, f models.DeliveryFilter) iter.Seq2[models.DeliveryRecord, error]
}

// DestinationAdapter pushes one signal to one external channel. Errors must be
// wrapped in a DeliveryError so the dispatcher can decide whether to retry.
type DestinationAdapter interface {
	Destination() models.Destination
	Address() string
	Send(ctx context.Context, sig models.Signal) (string, error)
}

// TransmissionPublisher forwards terminal delivery records to an audit sink.
type TransmissionPublisher interface {
	PublishTransmission(ctx context.Context, rec models.DeliveryRecord) error
	Close() error
}

type Metrics interface {
	RecordPublished(kind string)
	RecordDropped(kind string)
	RecordReplaced(kind string)
	RecordSubscribers(n int)
	RecordDelivery(destination, status string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
