package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gamehost/internal/game"
)

// DefaultRecentLimit caps Recent when the caller passes a non-positive limit.
const DefaultRecentLimit = 10

// SessionArchive records finished sessions.
type SessionArchive struct {
	db *pgxpool.Pool
}

// NewSessionArchive creates a SessionArchive backed by db.
//
// Precondition: db must be a valid, open connection pool.
func NewSessionArchive(db *pgxpool.Pool) *SessionArchive {
	return &SessionArchive{db: db}
}

// Archive inserts one finished session. Archiving the same session twice is a no-op.
//
// Precondition: s.ID must be a UUID; s.EndedAt must be set.
func (a *SessionArchive) Archive(ctx context.Context, s game.Stats) error {
	if s.EndedAt.IsZero() {
		return fmt.Errorf("archiving session %s: session has not ended", s.ID)
	}
	_, err := a.db.Exec(ctx,
		`INSERT INTO session_archive
		   (session_id, community, room, ref, title, host, started_at, ended_at, total_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (session_id) DO NOTHING`,
		s.ID, s.Community, s.Room, s.Ref, s.Title, s.Host,
		s.StartedAt, s.EndedAt, int64(s.Total/time.Second),
	)
	if err != nil {
		return fmt.Errorf("archiving session %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to limit finished sessions of community, newest first.
func (a *SessionArchive) Recent(ctx context.Context, community string, limit int) ([]game.Stats, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := a.db.Query(ctx,
		`SELECT session_id::text, community, room, ref, title, host, started_at, ended_at, total_seconds
		 FROM session_archive
		 WHERE community = $1
		 ORDER BY ended_at DESC, id DESC
		 LIMIT $2`,
		community, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying session archive: %w", err)
	}
	defer rows.Close()

	var out []game.Stats
	for rows.Next() {
		var (
			s     game.Stats
			total int64
		)
		if err := rows.Scan(&s.ID, &s.Community, &s.Room, &s.Ref, &s.Title, &s.Host,
			&s.StartedAt, &s.EndedAt, &total); err != nil {
			return nil, fmt.Errorf("scanning session archive row: %w", err)
		}
		s.Total = time.Duration(total) * time.Second
		s.LastActivityAt = s.EndedAt
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session archive: %w", err)
	}
	return out, nil
}

// ArchiveSummary describes the archive as a whole.
type ArchiveSummary struct {
	Sessions    int64
	Communities int64
	// LastEnded is zero when the archive is empty.
	LastEnded time.Time
}

// Summary counts archived sessions and the communities they came from.
func (a *SessionArchive) Summary(ctx context.Context) (ArchiveSummary, error) {
	var (
		sum  ArchiveSummary
		last *time.Time
	)
	err := a.db.QueryRow(ctx,
		`SELECT count(*), count(DISTINCT community), max(ended_at) FROM session_archive`,
	).Scan(&sum.Sessions, &sum.Communities, &last)
	if err != nil {
		return ArchiveSummary{}, fmt.Errorf("summarizing session archive: %w", err)
	}
	if last != nil {
		sum.LastEnded = *last
	}
	return sum, nil
}
