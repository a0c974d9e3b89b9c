// Package sqlite keeps the dispatch journal in a local SQLite file for
// consoles that run without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mailbridge/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_journal (
	id          TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	campaign_id TEXT NOT NULL DEFAULT '',
	record_id   TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	at_ms       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS dispatch_journal_campaign_at ON dispatch_journal (campaign_id, at_ms DESC);
`

type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens or creates the journal file and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) InsertEntry(ctx context.Context, e store.JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_journal (id, action, campaign_id, record_id, outcome, error, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Action), e.CampaignID, e.RecordID, string(e.Outcome), e.Error, toMillis(e.At))
	return err
}

// ListEntries returns the newest entries first. An empty campaignID lists
// across all campaigns.
func (s *Store) ListEntries(ctx context.Context, campaignID string, limit int) ([]store.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, campaign_id, record_id, outcome, error, at_ms
		FROM dispatch_journal
		WHERE (? = '' OR campaign_id = ?)
		ORDER BY at_ms DESC, id DESC
		LIMIT ?
	`, campaignID, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.JournalEntry{}
	for rows.Next() {
		var e store.JournalEntry
		var action, outcome string
		var at int64
		if err := rows.Scan(&e.ID, &action, &e.CampaignID, &e.RecordID, &outcome, &e.Error, &at); err != nil {
			return nil, err
		}
		e.Action, e.Outcome, e.At = store.Action(action), store.Outcome(outcome), fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
