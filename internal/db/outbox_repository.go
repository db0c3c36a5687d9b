package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertOutboxEvent stages a domain event in the same transaction as the
// state change it describes. ScheduledAt defaults to now so the dispatcher
// picks it up on the next poll.
func (r *Repository) InsertOutboxEvent(ctx context.Context, tx pgx.Tx, event *OutboxEventEntity) error {
	query := `INSERT INTO outbox_event (id, tenant_id, intent_id, event_type, payload,
	          created_at, scheduled_at, publish_attempts)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	now := time.Now()
	event.CreatedAt = now
	if event.ScheduledAt == nil {
		event.ScheduledAt = &now
	}

	_, err := tx.Exec(ctx, query, event.ID, event.TenantID, event.IntentID,
		event.EventType, event.Payload, event.CreatedAt, event.ScheduledAt, event.PublishAttempts)
	return err
}

// GetUnpublishedEvents fetches due events with their rows locked, skipping
// rows another dispatcher already holds.
func (r *Repository) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEventEntity, error) {
	query := `SELECT id, tenant_id, intent_id, event_type, payload,
	          created_at, scheduled_at, published_at, publish_attempts, error
	          FROM outbox_event
	          WHERE published_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY created_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboxEventEntity
	for rows.Next() {
		var e OutboxEventEntity
		if err := rows.Scan(&e.ID, &e.TenantID, &e.IntentID, &e.EventType, &e.Payload,
			&e.CreatedAt, &e.ScheduledAt, &e.PublishedAt, &e.PublishAttempts, &e.Error); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateOutboxEvent(ctx context.Context, tx pgx.Tx, event *OutboxEventEntity) error {
	query := `UPDATE outbox_event SET scheduled_at = $2, published_at = $3,
	          publish_attempts = $4, error = $5 WHERE id = $1`

	_, err := tx.Exec(ctx, query, event.ID, event.ScheduledAt, event.PublishedAt,
		event.PublishAttempts, event.Error)
	return err
}
