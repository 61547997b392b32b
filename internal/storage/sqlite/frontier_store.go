package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

// FrontierStore implements crawler.FrontierStore on the frontier table.
type FrontierStore struct {
	db *sql.DB
}

// LoadEntries reads every row in discovery order.
func (s *FrontierStore) LoadEntries(ctx context.Context) ([]crawler.FrontierEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, kind, page_index, discovered_at, state, attempts, last_error,
		       last_error_kind, last_attempt, not_before, permanent, seq
		FROM frontier ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query frontier: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.FrontierEntry
	for rows.Next() {
		var (
			entry                                crawler.FrontierEntry
			discoveredAt, lastAttempt, notBefore int64
			kind, state, errorKind               string
		)
		if err := rows.Scan(
			&entry.Target.URL, &kind, &entry.Target.PageIndex, &discoveredAt, &state,
			&entry.Attempts, &entry.LastError, &errorKind, &lastAttempt, &notBefore,
			&entry.Permanent, &entry.Seq,
		); err != nil {
			return nil, fmt.Errorf("scan frontier row: %w", err)
		}
		entry.Target.Kind = crawler.TargetKind(kind)
		entry.Target.DiscoveredAt = fromNanos(discoveredAt)
		entry.State = crawler.EntryState(state)
		entry.LastErrorKind = crawler.ErrorKind(errorKind)
		entry.LastAttempt = fromNanos(lastAttempt)
		entry.NotBefore = fromNanos(notBefore)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frontier rows: %w", err)
	}
	return out, nil
}

// SaveEntry upserts one row.
func (s *FrontierStore) SaveEntry(ctx context.Context, entry crawler.FrontierEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frontier (url, kind, page_index, discovered_at, state, attempts, last_error,
		                      last_error_kind, last_attempt, not_before, permanent, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			kind = excluded.kind,
			page_index = excluded.page_index,
			discovered_at = excluded.discovered_at,
			state = excluded.state,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			last_error_kind = excluded.last_error_kind,
			last_attempt = excluded.last_attempt,
			not_before = excluded.not_before,
			permanent = excluded.permanent,
			seq = excluded.seq`,
		entry.URL(), string(entry.Target.Kind), entry.Target.PageIndex, toNanos(entry.Target.DiscoveredAt),
		string(entry.State), entry.Attempts, entry.LastError, string(entry.LastErrorKind),
		toNanos(entry.LastAttempt), toNanos(entry.NotBefore), entry.Permanent, entry.Seq,
	)
	if err != nil {
		return fmt.Errorf("upsert frontier %s: %w", entry.URL(), err)
	}
	return nil
}

// ClearEntries deletes every row.
func (s *FrontierStore) ClearEntries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM frontier`); err != nil {
		return fmt.Errorf("clear frontier: %w", err)
	}
	return nil
}
