// Package session implements the Session Record Store (SPEC_FULL.md §4.7):
// durable, minimal per-player session state — which server a player is
// tied to, their last slot, and the environment segments they've passed
// through — persisted so a reconnect or an operator dashboard can resume
// without re-deriving it from in-memory routing state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slotfabric/matchcore/internal/model"
)

// Repository persists SessionRecords.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository wraps an already-migrated pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LoadByID loads a session by its ID, including ordered segments. Returns
// nil, nil if not found.
func (r *Repository) LoadByID(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.QueryRow(ctx,
		`SELECT session_id, player_id, server_id, last_slot_id, client_protocol_version, updated_at
		 FROM player_sessions WHERE session_id = $1`, sessionID,
	).Scan(&rec.SessionID, &rec.PlayerID, &rec.ServerID, &rec.LastSlotID, &rec.ClientProtocolVersion, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %q: %w", sessionID, err)
	}

	segments, err := r.loadSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec.Segments = segments
	return &rec, nil
}

// LoadActiveByPlayer returns the most recently updated session for
// playerID, or nil if the player has never had one.
func (r *Repository) LoadActiveByPlayer(ctx context.Context, playerID string) (*model.SessionRecord, error) {
	var sessionID string
	err := r.db.QueryRow(ctx,
		`SELECT session_id FROM player_sessions
		 WHERE player_id = $1 ORDER BY updated_at DESC LIMIT 1`, playerID,
	).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active session for %q: %w", playerID, err)
	}
	return r.LoadByID(ctx, sessionID)
}

func (r *Repository) loadSegments(ctx context.Context, sessionID string) ([]model.EnvironmentSegment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT environment, server_id, started_at, ended_at
		 FROM player_session_segments WHERE session_id = $1 ORDER BY ordinal ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying segments for %q: %w", sessionID, err)
	}
	defer rows.Close()

	segments := make([]model.EnvironmentSegment, 0, 4)
	for rows.Next() {
		var seg model.EnvironmentSegment
		var endedAt *time.Time
		if err := rows.Scan(&seg.Environment, &seg.ServerID, &seg.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scanning segment row: %w", err)
		}
		if endedAt != nil {
			seg.EndedAt = *endedAt
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating segment rows: %w", err)
	}
	return segments, nil
}

// Upsert writes rec, replacing its segment history with rec.Segments.
func (r *Repository) Upsert(ctx context.Context, rec *model.SessionRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning session upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec.UpdatedAt = time.Now()
	_, err = tx.Exec(ctx,
		`INSERT INTO player_sessions (session_id, player_id, server_id, last_slot_id, client_protocol_version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE SET
		   server_id = EXCLUDED.server_id,
		   last_slot_id = EXCLUDED.last_slot_id,
		   client_protocol_version = EXCLUDED.client_protocol_version,
		   updated_at = EXCLUDED.updated_at`,
		rec.SessionID, rec.PlayerID, rec.ServerID, rec.LastSlotID, rec.ClientProtocolVersion, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session %q: %w", rec.SessionID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM player_session_segments WHERE session_id = $1`, rec.SessionID); err != nil {
		return fmt.Errorf("clearing segments for %q: %w", rec.SessionID, err)
	}
	for i, seg := range rec.Segments {
		var endedAt any
		if !seg.EndedAt.IsZero() {
			endedAt = seg.EndedAt
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO player_session_segments (session_id, ordinal, environment, server_id, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.SessionID, i, seg.Environment, seg.ServerID, seg.StartedAt, endedAt,
		); err != nil {
			return fmt.Errorf("inserting segment %d for %q: %w", i, rec.SessionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing session upsert tx: %w", err)
	}
	return nil
}

// Delete removes a session and its segments (cascade).
func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM player_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting session %q: %w", sessionID, err)
	}
	return nil
}
