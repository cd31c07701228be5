package observations

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ptrevors/beurerd/internal/engine"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store implements the engine's ObservationSink and AuditSink on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database. The schema is managed by
// migrations, not by the store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UnknownObservation is one recorded unclassifiable frame.
type UnknownObservation struct {
	ID         int64     `json:"id"`
	ObservedAt time.Time `json:"observed_at"`
	SessionID  string    `json:"session_id"`
	Reason     string    `json:"reason"`
	PayloadHex string    `json:"payload_hex"`
}

// RecordUnknown persists a frame the interpreter could not classify.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - sessionID: Session the frame arrived in
//   - reason: Classification failure (decode_error, unknown_length, ...)
//   - payload: Raw frame bytes
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) RecordUnknown(ctx context.Context, sessionID, reason string, payload []byte) error {
	if reason == "" {
		return fmt.Errorf("reason is required")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO unknown_observations (observed_at, session_id, reason, payload_hex) VALUES (?, ?, ?, ?)",
		time.Now().UnixMilli(),
		sessionID,
		reason,
		hex.EncodeToString(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting observation: %w", err)
	}
	return nil
}

// RecentUnknown returns recent unclassified frames, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
func (s *Store) RecentUnknown(ctx context.Context, limit int) ([]UnknownObservation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, observed_at, session_id, reason, payload_hex
		 FROM unknown_observations
		 ORDER BY observed_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying observations: %w", err)
	}
	defer rows.Close()

	entries := make([]UnknownObservation, 0, limit)
	for rows.Next() {
		var entry UnknownObservation
		var observedAt int64

		if err := rows.Scan(&entry.ID, &observedAt, &entry.SessionID, &entry.Reason, &entry.PayloadHex); err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		entry.ObservedAt = time.UnixMilli(observedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating observations: %w", err)
	}

	return entries, nil
}

// RecordCommand persists one completed command's audit record.
func (s *Store) RecordCommand(ctx context.Context, rec engine.CommandRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("command id is required")
	}

	var completedAt any
	if !rec.CompletedAt.IsZero() {
		completedAt = rec.CompletedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_audit
		 (command_id, session_id, submitted_at, completed_at, intent, frame_hex, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SessionID,
		rec.SubmittedAt.UnixMilli(),
		completedAt,
		rec.Intent,
		rec.FrameHex,
		rec.Outcome,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting command audit: %w", err)
	}
	return nil
}

// RecentCommands returns recent audit records, newest first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]engine.CommandRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT command_id, session_id, submitted_at, completed_at, intent, frame_hex, outcome, COALESCE(error, '')
		 FROM command_audit
		 ORDER BY submitted_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command audit: %w", err)
	}
	defer rows.Close()

	entries := make([]engine.CommandRecord, 0, limit)
	for rows.Next() {
		var rec engine.CommandRecord
		var submittedAt int64
		var completedAt sql.NullInt64

		if err := rows.Scan(&rec.ID, &rec.SessionID, &submittedAt, &completedAt,
			&rec.Intent, &rec.FrameHex, &rec.Outcome, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning command audit: %w", err)
		}
		rec.SubmittedAt = time.UnixMilli(submittedAt)
		if completedAt.Valid {
			rec.CompletedAt = time.UnixMilli(completedAt.Int64)
		}
		entries = append(entries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit: %w", err)
	}

	return entries, nil
}

// Prune deletes diagnostic rows older than the retention window.
// Called periodically by the daemon; the tables would otherwise grow
// without bound on a chatty lamp.
func (s *Store) Prune(ctx context.Context, retain time.Duration) error {
	cutoff := time.Now().Add(-retain).UnixMilli()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM unknown_observations WHERE observed_at < ?", cutoff); err != nil {
		return fmt.Errorf("pruning observations: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM command_audit WHERE submitted_at < ?", cutoff); err != nil {
		return fmt.Errorf("pruning command audit: %w", err)
	}
	return nil
}
