package storage

import (
	"context"
	"fmt"
	"time"
)

// OutboxMessage is one staged ledger event awaiting publication.
type OutboxMessage struct {
	ID           int64
	RecordID     string
	Topic        string
	PartitionKey string
	Payload      []byte
	Status       string
	RetryCount   int
	MaxRetries   int
	LastError    *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	PublishedAt  *time.Time
}

// OutboxRepository drives the publisher side of the transactional outbox.
// Rows are staged by LedgerRepository inside the redistribution transaction;
// this repository claims, publishes, and settles them.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// FetchPendingMessages retrieves pending outbox messages in ID order so
// per-partition ordering is preserved downstream.
func (r *OutboxRepository) FetchPendingMessages(ctx context.Context, limit int) ([]OutboxMessage, error) {
	sql := `
		SELECT id, record_id, topic, partition_key, payload,
		       status, retry_count, max_retries, last_error,
		       created_at, processed_at, published_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT $1
	`

	rows, err := r.db.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		err := rows.Scan(
			&msg.ID, &msg.RecordID, &msg.Topic, &msg.PartitionKey, &msg.Payload,
			&msg.Status, &msg.RetryCount, &msg.MaxRetries, &msg.LastError,
			&msg.CreatedAt, &msg.ProcessedAt, &msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkAsProcessing atomically claims pending messages. Returns the IDs that
// were actually claimed so concurrent publishers never double-send.
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sql := `
		UPDATE outbox
		SET status = 'processing', processed_at = $1
		WHERE id = ANY($2) AND status = 'pending'
		RETURNING id
	`

	rows, err := r.db.pool.Query(ctx, sql, time.Now().UTC(), ids)
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	defer rows.Close()

	var claimed []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		claimed = append(claimed, id)
	}

	return claimed, rows.Err()
}

// MarkAsPublished marks messages as successfully published.
func (r *OutboxRepository) MarkAsPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	sql := `
		UPDATE outbox
		SET status = 'published', published_at = $1
		WHERE id = ANY($2)
	`

	if _, err := r.db.pool.Exec(ctx, sql, time.Now().UTC(), ids); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	return nil
}

// MarkAsFailed records a publish failure. The message returns to pending for
// retry until max_retries is exhausted, then parks as failed.
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64, errMsg string) error {
	sql := `
		UPDATE outbox
		SET status = CASE
				WHEN retry_count + 1 >= max_retries THEN 'failed'
				ELSE 'pending'
			END,
			retry_count = retry_count + 1,
			last_error = $1,
			processed_at = NULL
		WHERE id = $2
	`

	if _, err := r.db.pool.Exec(ctx, sql, errMsg, id); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	return nil
}
