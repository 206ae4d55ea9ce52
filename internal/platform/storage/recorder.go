package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veyra-labs/fieldledger/internal/engine"
	"github.com/veyra-labs/fieldledger/internal/ledger"
)

// LedgerRepository persists offerings and redistribution records. Every
// redistribution append also writes an outbox row in the same transaction so
// downstream publishers see exactly the committed ledger.
type LedgerRepository struct {
	db    *DB
	topic string
}

// NewLedgerRepository creates a repository that tags outbox rows with the
// given topic.
func NewLedgerRepository(db *DB, topic string) *LedgerRepository {
	return &LedgerRepository{db: db, topic: topic}
}

// CreateOffering appends a new offering. ID and CreatedAt are assigned when
// empty.
func (r *LedgerRepository) CreateOffering(ctx context.Context, o *ledger.Offering) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	sql := `
		INSERT INTO offerings (
			id, amount, currency, tx_reference, intent, resonance,
			session_id, redistributed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.pool.Exec(ctx, sql,
		o.ID,
		o.Amount,
		o.Currency,
		nullable(o.TxReference),
		nullable(o.Intent),
		nullable(o.Resonance),
		nullable(o.SessionID),
		o.Redistributed,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert offering: %w", err)
	}

	return nil
}

// GetOffering returns one offering or engine.ErrOfferingNotFound.
func (r *LedgerRepository) GetOffering(ctx context.Context, id string) (*ledger.Offering, error) {
	sql := `
		SELECT id, amount, currency, tx_reference, intent, resonance,
		       session_id, redistributed, created_at
		FROM offerings
		WHERE id = $1
	`

	var o ledger.Offering
	var txRef, intent, resonance, sessionID *string

	err := r.db.pool.QueryRow(ctx, sql, id).Scan(
		&o.ID, &o.Amount, &o.Currency, &txRef, &intent, &resonance,
		&sessionID, &o.Redistributed, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrOfferingNotFound
		}
		return nil, fmt.Errorf("query offering: %w", err)
	}

	o.TxReference = deref(txRef)
	o.Intent = deref(intent)
	o.Resonance = deref(resonance)
	o.SessionID = deref(sessionID)

	return &o, nil
}

// ClaimOffering atomically marks an offering consumed as a redistribution
// source. The conditional update serializes concurrent claims in the
// database: exactly one caller sees a row flip, the rest get
// engine.ErrOfferingConsumed.
func (r *LedgerRepository) ClaimOffering(ctx context.Context, id string) error {
	sql := `UPDATE offerings SET redistributed = TRUE WHERE id = $1 AND NOT redistributed`

	tag, err := r.db.pool.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("claim offering: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM offerings WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("claim offering: %w", err)
	}
	if !exists {
		return engine.ErrOfferingNotFound
	}
	return engine.ErrOfferingConsumed
}

// ReleaseOffering undoes a claim after a failed transfer so the offering can
// be redistributed later.
func (r *LedgerRepository) ReleaseOffering(ctx context.Context, id string) error {
	sql := `UPDATE offerings SET redistributed = FALSE WHERE id = $1`

	if _, err := r.db.pool.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("release offering: %w", err)
	}
	return nil
}

// RecordRedistribution appends the record and stages the outbox message in
// one transaction. The source offering, when the record names one, was
// already flipped by ClaimOffering.
func (r *LedgerRepository) RecordRedistribution(ctx context.Context, rec *ledger.RedistributionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		recSQL := `
			INSERT INTO redistributions (
				id, source_offering_id, amount, currency, tx_reference,
				recipient_resonance, recipient_session, reason, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`

		_, err := tx.Exec(ctx, recSQL,
			rec.ID,
			nullable(rec.SourceOfferingID),
			rec.Amount,
			rec.Currency,
			nullable(rec.TxReference),
			rec.RecipientResonance,
			nullable(rec.RecipientSession),
			string(rec.Reason),
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert redistribution: %w", err)
		}

		outboxSQL := `
			INSERT INTO outbox (record_id, topic, partition_key, payload)
			VALUES ($1, $2, $3, $4)
		`

		// Partition by currency so downstream consumers see per-chain order.
		if _, err := tx.Exec(ctx, outboxSQL, rec.ID, r.topic, rec.Currency, payload); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}

		return nil
	})
}

// History returns the most recent redistribution records, newest first.
func (r *LedgerRepository) History(ctx context.Context, limit int) ([]ledger.RedistributionRecord, error) {
	sql := `
		SELECT id, source_offering_id, amount, currency, tx_reference,
		       recipient_resonance, recipient_session, reason, created_at
		FROM redistributions
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []ledger.RedistributionRecord
	for rows.Next() {
		var rec ledger.RedistributionRecord
		var sourceID, txRef, session *string
		var reason string

		err := rows.Scan(
			&rec.ID, &sourceID, &rec.Amount, &rec.Currency, &txRef,
			&rec.RecipientResonance, &session, &reason, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.SourceOfferingID = deref(sourceID)
		rec.TxReference = deref(txRef)
		rec.RecipientSession = deref(session)
		rec.Reason = ledger.ReasonCode(reason)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ engine.Recorder = (*LedgerRepository)(nil)
