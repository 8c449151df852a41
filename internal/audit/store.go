package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/sentinel/internal/platform/db"
)

const insertEventSQL = `INSERT INTO security_audit_logs
	(id, event_type, identity_id, email, severity, ip_address, user_agent, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`

// PGStore persists events to security_audit_logs. Inserts are keyed by the
// event ID so a retried write never duplicates a row.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs the store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var (
	_ Store              = (*PGStore)(nil)
	_ TimelineRepository = (*PGStore)(nil)
)

// Insert writes a single event.
func (s *PGStore) Insert(ctx context.Context, event Event) error {
	args, err := insertArgs(event)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, insertEventSQL, args...)
	return err
}

// InsertBatch writes events in one transaction.
func (s *PGStore) InsertBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, event := range events {
		args, err := insertArgs(event)
		if err != nil {
			return err
		}
		batch.Queue(insertEventSQL, args...)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for range events {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("audit: batch insert: %w", err)
			}
		}
		return results.Close()
	})
}

// QueryEvents returns events matching filters, newest first.
func (s *PGStore) QueryEvents(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text, event_type, COALESCE(identity_id, ''), COALESCE(email, ''), severity,
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), details, created_at
FROM security_audit_logs
WHERE ($1::timestamptz IS NULL OR created_at >= $1)
  AND ($2::timestamptz IS NULL OR created_at < $2)
  AND ($3::text IS NULL OR event_type = $3)
  AND ($4::text IS NULL OR identity_id = $4)
  AND ($5::text IS NULL OR severity = $5)
ORDER BY created_at DESC, id
OFFSET $6 LIMIT $7`,
		toPgTime(filters.From), toPgTime(filters.To),
		optionalText(filters.Type), optionalText(filters.IdentityID), optionalText(filters.Severity),
		offset, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			event    Event
			eventTyp string
			severity string
			details  []byte
		)
		if err := rows.Scan(&event.ID, &eventTyp, &event.IdentityID, &event.Email, &severity,
			&event.IPAddress, &event.UserAgent, &details, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Type = EventType(eventTyp)
		event.Severity = Severity(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func insertArgs(event Event) ([]any, error) {
	details := []byte("{}")
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return nil, fmt.Errorf("audit: encode details: %w", err)
		}
		details = raw
	}
	return []any{
		event.ID, string(event.Type), optionalText(event.IdentityID), optionalText(event.Email),
		string(event.Severity), optionalText(event.IPAddress), optionalText(event.UserAgent),
		details, event.CreatedAt,
	}, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
