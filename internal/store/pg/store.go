package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailbridge/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_journal (
	id          TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	campaign_id TEXT,
	record_id   TEXT,
	outcome     TEXT NOT NULL,
	error       TEXT,
	at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS dispatch_journal_campaign_at ON dispatch_journal (campaign_id, at DESC);
`

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

func (s *Store) InsertEntry(ctx context.Context, e store.JournalEntry) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO dispatch_journal (id, action, campaign_id, record_id, outcome, error, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, string(e.Action), nullIfEmpty(e.CampaignID), nullIfEmpty(e.RecordID), string(e.Outcome), nullIfEmpty(e.Error), e.At)
	return err
}

// ListEntries returns the newest entries first. An empty campaignID lists
// across all campaigns.
func (s *Store) ListEntries(ctx context.Context, campaignID string, limit int) ([]store.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, action, COALESCE(campaign_id,''), COALESCE(record_id,''), outcome, COALESCE(error,''), at
		FROM dispatch_journal
		WHERE ($1 = '' OR campaign_id = $1)
		ORDER BY at DESC, id DESC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.JournalEntry, error) {
		var e store.JournalEntry
		var action, outcome string
		err := row.Scan(&e.ID, &action, &e.CampaignID, &e.RecordID, &outcome, &e.Error, &e.At)
		e.Action, e.Outcome = store.Action(action), store.Outcome(outcome)
		return e, err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.JournalEntry{}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
