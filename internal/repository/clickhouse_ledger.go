package repository

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/internal/ledger"
	pkgch "SignalHub/pkg/clickhouse"
	applogger "SignalHub/pkg/logger"
)

const deliveryColumns = "id, signal_id, destination, destination_address, attempt, status, response, error, sent_at"

// DeliverySchema returns the DDL for the delivery ledger table.
func DeliverySchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id Int64,
            signal_id Int64,
            destination LowCardinality(String),
            destination_address String,
            attempt UInt16,
            status LowCardinality(String),
            response Nullable(String),
            error Nullable(String),
            sent_at DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        ORDER BY (signal_id, destination, id)
    `, table)}
}

// CHLedger persists completed delivery attempts in ClickHouse. Attempts that
// are still pending live in memory until they complete, so every stored row
// is final and never updated.
type CHLedger struct {
	db    *sql.DB
	table string
	l     *applogger.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]models.DeliveryRecord
}

// NewCHLedger creates the table if needed and continues id allocation after
// the highest stored id.
func NewCHLedger(ctx context.Context, ch *pkgch.Client, table string, l *applogger.Logger) (*CHLedger, error) {
	if l == nil {
		l = applogger.NewNop()
	}
	if err := ch.InitSchema(ctx, DeliverySchema(table)); err != nil {
		return nil, err
	}

	var maxID int64
	if err := ch.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT max(id) FROM %s", table)).Scan(&maxID); err != nil {
		return nil, fmt.Errorf("ledger max id: %w", err)
	}
	l.Info("clickhouse ledger ready",
		applogger.String("table", table),
		applogger.Int64("last_id", maxID))

	return &CHLedger{
		db:      ch.DB(),
		table:   table,
		l:       l,
		nextID:  maxID,
		pending: make(map[int64]models.DeliveryRecord),
	}, nil
}

func (s *CHLedger) Append(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error) {
	if !rec.Status.Valid() {
		return models.DeliveryRecord{}, fmt.Errorf("%w: %q", ledger.ErrInvalidStatus, rec.Status)
	}
	if rec.ID == 0 {
		return s.create(ctx, rec)
	}
	return s.complete(ctx, rec)
}

func (s *CHLedger) create(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error) {
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	s.mu.Lock()
	s.nextID++
	rec.ID = s.nextID
	if rec.Status == models.DeliveryPending {
		s.pending[rec.ID] = rec.Clone()
		s.mu.Unlock()
		return rec.Clone(), nil
	}
	s.mu.Unlock()

	if err := s.insert(ctx, rec); err != nil {
		return models.DeliveryRecord{}, err
	}
	return rec.Clone(), nil
}

func (s *CHLedger) complete(ctx context.Context, update models.DeliveryRecord) (models.DeliveryRecord, error) {
	s.mu.Lock()
	pending, ok := s.pending[update.ID]
	if ok {
		// claimed; a concurrent completion now sees the record as gone
		delete(s.pending, update.ID)
	}
	s.mu.Unlock()

	if !ok {
		return models.DeliveryRecord{}, s.missing(ctx, update.ID)
	}

	done, err := ledger.Complete(pending, update)
	if err == nil {
		err = s.insert(ctx, done)
	}
	if err != nil {
		s.mu.Lock()
		s.pending[pending.ID] = pending
		s.mu.Unlock()
		return models.DeliveryRecord{}, err
	}
	return done, nil
}

// missing tells a completed record apart from an unknown one.
func (s *CHLedger) missing(ctx context.Context, id int64) error {
	var n uint64
	q := fmt.Sprintf("SELECT count() FROM %s WHERE id = ?", s.table)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return fmt.Errorf("ledger lookup %d: %w", id, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: id=%d", ledger.ErrRecordNotPending, id)
	}
	return fmt.Errorf("%w: id=%d", ledger.ErrUnknownRecord, id)
}

func (s *CHLedger) insert(ctx context.Context, rec models.DeliveryRecord) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, deliveryColumns)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.SignalID,
		string(rec.Destination),
		rec.DestinationAddress,
		uint16(rec.Attempt),
		string(rec.Status),
		rec.Response,
		rec.Error,
		rec.SentAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse ledger insert error",
			applogger.Int64("id", rec.ID),
			applogger.Int64("signal_id", rec.SignalID),
			applogger.Error(err))
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// Query merges in-memory pending attempts with stored rows. Rows are read
// from the database only as the caller advances, so an attempt completed
// after the pending snapshot can show up on both sides; the stored row wins.
func (s *CHLedger) Query(ctx context.Context, f models.DeliveryFilter) iter.Seq2[models.DeliveryRecord, error] {
	return func(yield func(models.DeliveryRecord, error) bool) {
		merged := mergePendingStored(ctx, s.pendingMatching(f), s.rows(ctx, f), f.Limit)
		for rec, err := range merged {
			if !yield(rec, err) {
				return
			}
		}
	}
}

func mergePendingStored(ctx context.Context, pending []models.DeliveryRecord, stored iter.Seq2[models.DeliveryRecord, error], limit int) iter.Seq2[models.DeliveryRecord, error] {
	return ledger.Distinct(ledger.MergeNewest(ledger.Records(ctx, pending), stored, 0), limit)
}

func (s *CHLedger) pendingMatching(f models.DeliveryFilter) []models.DeliveryRecord {
	s.mu.Lock()
	out := make([]models.DeliveryRecord, 0, len(s.pending))
	for _, rec := range s.pending {
		if f.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return models.Newer(out[i], out[j]) })
	return out
}

func (s *CHLedger) rows(ctx context.Context, f models.DeliveryFilter) iter.Seq2[models.DeliveryRecord, error] {
	return func(yield func(models.DeliveryRecord, error) bool) {
		if f.Status == models.DeliveryPending {
			return
		}
		q, args := buildDeliveryQuery(s.table, f)
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(models.DeliveryRecord{}, fmt.Errorf("query delivery records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				rec      models.DeliveryRecord
				dest     string
				status   string
				attempt  uint16
				response sql.NullString
				errText  sql.NullString
			)
			if err := rows.Scan(&rec.ID, &rec.SignalID, &dest, &rec.DestinationAddress, &attempt, &status, &response, &errText, &rec.SentAt); err != nil {
				yield(models.DeliveryRecord{}, fmt.Errorf("scan delivery record: %w", err))
				return
			}
			rec.Destination = models.Destination(dest)
			rec.Status = models.DeliveryStatus(status)
			rec.Attempt = int(attempt)
			if response.Valid {
				rec.Response = &response.String
			}
			if errText.Valid {
				rec.Error = &errText.String
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.DeliveryRecord{}, fmt.Errorf("rows: %w", err))
		}
	}
}

func buildDeliveryQuery(table string, f models.DeliveryFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.SignalID != 0 {
		conds = append(conds, "signal_id = ?")
		args = append(args, f.SignalID)
	}
	if f.Destination != "" {
		conds = append(conds, "destination = ?")
		args = append(args, string(f.Destination))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", deliveryColumns, table)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY sent_at DESC, id DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	return b.String(), args
}

// PendingCount reports attempts that have not completed yet.
func (s *CHLedger) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

var _ domrepo.Ledger = (*CHLedger)(nil)
