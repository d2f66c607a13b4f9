package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// pgEventStore is the transactional outbox. AddEvent joins whatever
// transaction the storage handle is bound to; the worker-facing state
// transitions are single atomic statements safe under concurrent pollers.
// The outbox is internal machinery, not a user-facing resource, so it is
// not ACL gated.
type pgEventStore struct {
	s *pgStorage
}

type eventRow struct {
	ID              int64             `db:"id"`
	Event           []byte            `db:"event"`
	Status          model.EventStatus `db:"status"`
	AttemptCount    int32             `db:"attempt_count"`
	CreatedAt       time.Time         `db:"created_at"`
	StatusUpdatedAt time.Time         `db:"status_updated_at"`
	ScheduledOn     *time.Time        `db:"scheduled_on"`
}

func (row eventRow) toModel() (model.EventEntry, error) {
	var event model.Event
	if err := json.Unmarshal(row.Event, &event); err != nil {
		return model.EventEntry{}, errs.Internal(err, "decode outbox event")
	}
	return model.EventEntry{
		ID:              row.ID,
		Event:           event,
		Status:          row.Status,
		AttemptCount:    row.AttemptCount,
		CreatedAt:       row.CreatedAt,
		StatusUpdatedAt: row.StatusUpdatedAt,
		ScheduledOn:     row.ScheduledOn,
	}, nil
}

const eventColumns = `id, event, status, attempt_count, created_at, status_updated_at, scheduled_on`

func (r *pgEventStore) add(ctx context.Context, event model.Event, scheduledOn *time.Time) (model.EventEntry, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return model.EventEntry{}, errs.Internal(err, "encode outbox event")
	}
	var row eventRow
	err = sqlx.GetContext(ctx, r.s.ext, &row, `
		INSERT INTO event_store (event, status, attempt_count, scheduled_on)
		VALUES ($1, $2, 0, $3)
		RETURNING `+eventColumns,
		raw, model.EventStatusPending, scheduledOn)
	if err != nil {
		return model.EventEntry{}, mapDBError(err, "event")
	}
	return row.toModel()
}

func (r *pgEventStore) AddEvent(ctx context.Context, event model.Event) (model.EventEntry, error) {
	return r.add(ctx, event, nil)
}

func (r *pgEventStore) AddScheduledEvent(ctx context.Context, event model.Event, notBefore time.Time) (model.EventEntry, error) {
	return r.add(ctx, event, &notBefore)
}

// GetEventsForProcessing atomically claims up to limit due pending rows in
// ascending id order, skipping rows locked by concurrent workers.
func (r *pgEventStore) GetEventsForProcessing(ctx context.Context, limit int) ([]model.EventEntry, error) {
	var rows []eventRow
	err := sqlx.SelectContext(ctx, r.s.db, &rows, `
		UPDATE event_store
		SET status = $1, status_updated_at = now(), attempt_count = attempt_count + 1
		WHERE id IN (
			SELECT id FROM event_store
			WHERE status = $2 AND (scheduled_on IS NULL OR scheduled_on <= now())
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns,
		model.EventStatusInProgress, model.EventStatusPending, limit)
	if err != nil {
		return nil, mapDBError(err, "event")
	}
	entries := make([]model.EventEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ResetStuckEvents reclaims rows stuck in InProgress past the threshold:
// back to Pending for another attempt, or Failed once the attempt ceiling
// is reached.
func (r *pgEventStore) ResetStuckEvents(ctx context.Context, stuckThreshold time.Duration, maxAttempts int32) error {
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE event_store
		SET status = CASE WHEN attempt_count >= $1 THEN $2 ELSE $3 END,
		    status_updated_at = now()
		WHERE status = $4 AND status_updated_at + $5 * interval '1 second' < now()`,
		maxAttempts, model.EventStatusFailed, model.EventStatusPending,
		model.EventStatusInProgress, int64(stuckThreshold.Seconds()))
	return mapDBError(err, "event")
}

func (r *pgEventStore) CompleteEvent(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE event_store SET status = $1, status_updated_at = now()
		WHERE id = $2 AND status = $3`,
		model.EventStatusCompleted, id, model.EventStatusInProgress)
	if err != nil {
		return mapDBError(err, "event")
	}
	return ensureOneRow(res, "event")
}

func (r *pgEventStore) FailEvent(ctx context.Context, id int64, maxAttempts int32) error {
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE event_store
		SET status = CASE WHEN attempt_count >= $1 THEN $2 ELSE $3 END,
		    status_updated_at = now()
		WHERE id = $4 AND status = $5`,
		maxAttempts, model.EventStatusFailed, model.EventStatusPending,
		id, model.EventStatusInProgress)
	if err != nil {
		return mapDBError(err, "event")
	}
	return ensureOneRow(res, "event")
}
