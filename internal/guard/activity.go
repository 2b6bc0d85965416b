package guard

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"
)

// activityPageSize is how many records Query fetches per round trip.
const activityPageSize = 100

// ActivityLog is the append-only record of resolved operations.
type ActivityLog struct {
	db      Database
	clock   Clock
	logger  Logger
	metrics Metrics
}

// NewActivityLog wraps db.
func NewActivityLog(db Database, clock Clock, logger Logger, metrics Metrics) *ActivityLog {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ActivityLog{db: db, clock: clock, logger: logger, metrics: metrics}
}

// Record appends rec, stamping it when Timestamp is zero.
func (l *ActivityLog) Record(ctx context.Context, rec ActivityRecord) (*ActivityRecord, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock.Now().UTC()
	}
	stored, err := l.db.AppendActivity(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("appending activity: %w", err)
	}
	l.metrics.ObserveResolution(rec.Kind, rec.Resolution)
	l.logger.Info("operation resolved",
		"operation", rec.OperationID,
		"kind", rec.Kind,
		"path", rec.Path,
		"resolution", rec.Resolution,
	)
	return stored, nil
}

// Query returns a lazy, newest-first sequence of records matching filter.
// Each range over the result starts a fresh scan. A non-positive
// filter.Limit means no limit.
func (l *ActivityLog) Query(ctx context.Context, filter ActivityFilter) iter.Seq2[ActivityRecord, error] {
	return func(yield func(ActivityRecord, error) bool) {
		cursor := int64(math.MaxInt64)
		remaining := filter.Limit
		for {
			size := activityPageSize
			if remaining > 0 && remaining < size {
				size = remaining
			}
			page, err := l.db.QueryActivity(ctx, filter, cursor, size)
			if err != nil {
				yield(ActivityRecord{}, fmt.Errorf("querying activity: %w", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			cursor = page[len(page)-1].Seq
			if remaining > 0 {
				remaining -= len(page)
				if remaining == 0 {
					return
				}
			}
		}
	}
}

// Collect drains Query into a slice.
func (l *ActivityLog) Collect(ctx context.Context, filter ActivityFilter) ([]ActivityRecord, error) {
	var out []ActivityRecord
	for rec, err := range l.Query(ctx, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Recent returns the n newest records.
func (l *ActivityLog) Recent(ctx context.Context, n int) ([]ActivityRecord, error) {
	return l.Collect(ctx, ActivityFilter{Limit: n})
}

// BlockedSince counts blocking resolutions recorded at or after t.
func (l *ActivityLog) BlockedSince(ctx context.Context, t time.Time) (int, error) {
	return l.db.CountActivity(ctx, []Resolution{ResolutionBlockedAndBackedUp, ResolutionBlockedNoBackup}, t)
}

// ForOperation returns the record that resolved operationID.
func (l *ActivityLog) ForOperation(ctx context.Context, operationID string) (*ActivityRecord, error) {
	rec, err := l.db.FindActivityByOperation(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("finding activity: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}
	return rec, nil
}

// FindRef returns the first record with resolution r that refers to
// operationID, or nil.
func (l *ActivityLog) FindRef(ctx context.Context, operationID string, r Resolution) (*ActivityRecord, error) {
	return l.db.FindActivityByRef(ctx, operationID, r)
}
