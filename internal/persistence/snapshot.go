package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SnapshotManager stores core state snapshots and reads the event log
// back for recovery. The snapshot body is opaque here: the core owns its
// shape and bumps FormatVersion when it changes.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord is one row of event_log.snapshots.
type SnapshotRecord struct {
	Sequence      int64
	StateHash     []byte
	FormatVersion int
	Data          []byte // JSON-encoded core.SnapshotState
	Verified      bool
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists an unverified snapshot. Re-saving a sequence
// replaces the body and clears the verified flag.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW())
		ON CONFLICT (sequence) DO UPDATE
			SET data = $3, state_hash = $4, format_version = $5, size_bytes = $6, verified = FALSE
	`, uuid.New(), rec.Sequence, rec.Data, rec.StateHash, rec.FormatVersion, len(rec.Data))
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", rec.Sequence, err)
	}
	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, format_version, data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	rec := SnapshotRecord{Verified: true}
	if err := row.Scan(&rec.Sequence, &rec.StateHash, &rec.FormatVersion, &rec.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &rec, nil
}

// VerifyPending marks every unverified snapshot whose state hash equals
// the logged hash at its sequence. It returns how many were verified and
// the sequences whose hash disagreed.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int, []int64, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT s.sequence, s.state_hash, e.state_hash
		FROM event_log.snapshots s
		JOIN event_log.events e ON e.sequence = s.sequence
		WHERE s.verified = FALSE
	`)
	if err != nil {
		return 0, nil, fmt.Errorf("list pending snapshots: %w", err)
	}

	var ok, bad []int64
	for rows.Next() {
		var seq int64
		var snapHash, logHash []byte
		if err := rows.Scan(&seq, &snapHash, &logHash); err != nil {
			rows.Close()
			return 0, nil, err
		}
		if bytes.Equal(snapHash, logHash) {
			ok = append(ok, seq)
		} else {
			bad = append(bad, seq)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, nil, err
	}
	rows.Close()

	for _, seq := range ok {
		if err := sm.MarkVerified(ctx, seq); err != nil {
			return 0, bad, err
		}
	}
	return len(ok), bad, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events starting at fromSequence, in
// sequence order, for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, sale_id, payload, status,
		       rejection, result, state_delta, state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var rejection, result sql.NullString
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.SaleID, &e.Payload, &e.Status,
			&rejection, &result, &e.StateDelta, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		if rejection.Valid {
			e.Rejection = []byte(rejection.String)
		}
		if result.Valid {
			e.Result = []byte(result.String)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
