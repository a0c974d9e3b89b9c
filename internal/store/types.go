package store

import (
	"context"
	"time"
)

type Action string

const (
	ActionUpload  Action = "upload"
	ActionDelete  Action = "delete"
	ActionSendOne Action = "send_one"
	ActionSendAll Action = "send_all"
)

type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// JournalEntry records one operator action and how it ended.
type JournalEntry struct {
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	CampaignID string    `json:"campaign_id,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type Journal interface {
	InsertEntry(ctx context.Context, e JournalEntry) error
	ListEntries(ctx context.Context, campaignID string, limit int) ([]JournalEntry, error)
}

// Discard is the journal used when no database is configured.
type Discard struct{}

func (Discard) InsertEntry(context.Context, JournalEntry) error { return nil }

func (Discard) ListEntries(context.Context, string, int) ([]JournalEntry, error) {
	return []JournalEntry{}, nil
}
