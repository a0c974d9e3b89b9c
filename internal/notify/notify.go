// Package notify surfaces failed operator actions. Failed poll ticks never
// come through here.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mailbridge/internal/domain"
	"mailbridge/internal/observability"
	"mailbridge/internal/util"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Notification struct {
	ID         string    `json:"id"`
	Level      Level     `json:"level"`
	Op         string    `json:"op"`
	CampaignID domain.ID `json:"campaign_id,omitempty"`
	RecordID   domain.ID `json:"record_id,omitempty"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// New fills in the id and timestamp.
func New(level Level, op string, campaignID, recordID domain.ID, msg string) Notification {
	return Notification{
		ID:         util.NewOperationID("ntf"),
		Level:      level,
		Op:         op,
		CampaignID: campaignID,
		RecordID:   recordID,
		Message:    msg,
		At:         util.NowUTC(),
	}
}

// Log writes notifications to the default slog logger.
type Log struct{}

func (Log) Notify(ctx context.Context, n Notification) error {
	lvl := slog.LevelInfo
	if n.Level == LevelError {
		lvl = slog.LevelError
	}
	slog.Log(ctx, lvl, "operator notification",
		"notification_id", n.ID,
		"op", n.Op,
		"campaign_id", n.CampaignID,
		"record_id", n.RecordID,
		"message", n.Message,
	)
	return nil
}

// Fanout delivers to every notifier. One failing sink does not stop the
// rest; failures are logged.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	observability.Notifications.WithLabelValues(string(n.Level)).Inc()
	for _, nt := range f {
		if err := nt.Notify(ctx, n); err != nil {
			slog.Warn("notification sink failed", "notification_id", n.ID, "err", err)
		}
	}
	return nil
}

// Recorder keeps the most recent notifications for display.
type Recorder struct {
	Max int

	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(ctx context.Context, n Notification) error {
	max := r.Max
	if max <= 0 {
		max = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > max {
		r.items = append([]Notification(nil), r.items[len(r.items)-max:]...)
	}
	return nil
}

// Recent returns notifications newest first.
func (r *Recorder) Recent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	for i, n := range r.items {
		out[len(r.items)-1-i] = n
	}
	return out
}
