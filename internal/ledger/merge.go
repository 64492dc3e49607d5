package ledger

import (
	"context"
	"iter"

	"SignalHub/internal/domain/models"
)

// Records yields recs in order, checking ctx before each one.
func Records(ctx context.Context, recs []models.DeliveryRecord) iter.Seq2[models.DeliveryRecord, error] {
	return func(yield func(models.DeliveryRecord, error) bool) {
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				yield(models.DeliveryRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// MergeNewest merges two sequences that are each ordered newest first into
// one ordered sequence, stopping after limit records when limit > 0. The
// first error from either side ends the merge.
func MergeNewest(a, b iter.Seq2[models.DeliveryRecord, error], limit int) iter.Seq2[models.DeliveryRecord, error] {
	return func(yield func(models.DeliveryRecord, error) bool) {
		nextA, stopA := iter.Pull2(a)
		defer stopA()
		nextB, stopB := iter.Pull2(b)
		defer stopB()

		recA, errA, okA := nextA()
		recB, errB, okB := nextB()
		emitted := 0
		for okA || okB {
			if limit > 0 && emitted >= limit {
				return
			}
			if okA && errA != nil {
				yield(models.DeliveryRecord{}, errA)
				return
			}
			if okB && errB != nil {
				yield(models.DeliveryRecord{}, errB)
				return
			}

			var rec models.DeliveryRecord
			if okA && (!okB || models.Newer(recA, recB)) {
				rec = recA
				recA, errA, okA = nextA()
			} else {
				rec = recB
				recB, errB, okB = nextB()
			}
			if !yield(rec, nil) {
				return
			}
			emitted++
		}
	}
}

// Distinct drops records whose id was already yielded and stops after limit
// records when limit > 0. Completing an attempt restamps SentAt, so in a
// newest-first stream the terminal version of an id arrives before any stale
// pending copy of it.
func Distinct(seq iter.Seq2[models.DeliveryRecord, error], limit int) iter.Seq2[models.DeliveryRecord, error] {
	return func(yield func(models.DeliveryRecord, error) bool) {
		seen := make(map[int64]struct{})
		for rec, err := range seq {
			if err != nil {
				yield(models.DeliveryRecord{}, err)
				return
			}
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			if !yield(rec, nil) {
				return
			}
			if limit > 0 && len(seen) >= limit {
				return
			}
		}
	}
}
