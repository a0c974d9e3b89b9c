package service

import (
	"context"
	"time"

	"mailbridge/internal/attachment"
	"mailbridge/internal/domain"
)

const noSubject = "-"

// CampaignView is what the console renders for an open campaign: the last
// server state plus the affordances derived from it.
type CampaignView struct {
	ID         domain.ID       `json:"id"`
	Title      string          `json:"title"`
	UploadedAt time.Time       `json:"uploaded_at"`
	SentCount  int             `json:"sent_count"`
	TotalCount int             `json:"total_count"`
	Progress   domain.Progress `json:"progress"`
	SendAll    Affordance      `json:"send_all"`
	Watching   bool            `json:"watching"`
	Records    []RecordView    `json:"records"`
}

type Affordance struct {
	State   string `json:"state"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

type RecordView struct {
	ID           domain.ID            `json:"id"`
	Name         string               `json:"name"`
	Email        string               `json:"email"`
	Subject      string               `json:"subject"`
	CC           string               `json:"cc,omitempty"`
	BCC          string               `json:"bcc,omitempty"`
	IsSent       bool                 `json:"is_sent"`
	SendAttempts int                  `json:"send_attempts"`
	LastSentAt   *time.Time           `json:"last_sent_at,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Send         Affordance           `json:"send"`
	Attachments  []attachment.Preview `json:"attachments"`
}

// View renders the session's current snapshot. ok is false until the first
// successful load.
func (c *Console) View(id domain.ID) (CampaignView, bool) {
	s, found := c.session(id)
	if !found {
		return CampaignView{}, false
	}
	s.touch()
	d, ok := s.View.Snapshot()
	if !ok {
		return CampaignView{}, false
	}
	sa := c.dispatch.SendAllState(s.View)
	v := CampaignView{
		ID:         d.ID,
		Title:      d.Title,
		UploadedAt: d.UploadedAt,
		SentCount:  d.SentCount,
		TotalCount: d.TotalCount,
		Progress:   d.Progress(),
		SendAll:    Affordance{State: sa.String(), Label: sa.Label(), Enabled: sa.Enabled()},
		Watching:   s.Poller.Running(),
		Records:    make([]RecordView, 0, len(d.Records)),
	}
	for _, r := range d.Records {
		rs := c.dispatch.RecordState(s.View, r.ID)
		v.Records = append(v.Records, RecordView{
			ID:           r.ID,
			Name:         r.Name,
			Email:        r.Email,
			Subject:      r.SubjectOr(noSubject),
			CC:           r.CC,
			BCC:          r.BCC,
			IsSent:       r.IsSent,
			SendAttempts: r.SendAttempts,
			LastSentAt:   r.LastSentAt,
			ErrorMessage: r.ErrorMessage,
			Send:         Affordance{State: string(rs), Label: rs.Label(), Enabled: rs.Enabled()},
			Attachments:  attachment.ResolveAll(r.Attachments),
		})
	}
	return v, true
}

// CampaignSummary is one row of the campaign list.
type CampaignSummary struct {
	domain.Campaign
	Progress domain.Progress `json:"progress"`
	SendAll  Affordance      `json:"send_all"`
}

// listed adapts a list row to the dispatch controller; list rows carry no
// records.
type listed struct{ c domain.Campaign }

func (l listed) ID() domain.ID                               { return l.c.ID }
func (l listed) Counts() (int, int)                          { return l.c.SentCount, l.c.TotalCount }
func (l listed) Record(domain.ID) (domain.EmailRecord, bool) { return domain.EmailRecord{}, false }

func (c *Console) summarize(cs []domain.Campaign) []CampaignSummary {
	out := make([]CampaignSummary, 0, len(cs))
	for _, camp := range cs {
		sa := c.dispatch.SendAllState(listed{camp})
		out = append(out, CampaignSummary{
			Campaign: camp,
			Progress: camp.Progress(),
			SendAll:  Affordance{State: sa.String(), Label: sa.Label(), Enabled: sa.Enabled()},
		})
	}
	return out
}

// Summaries refreshes the list and renders it.
func (c *Console) Summaries(ctx context.Context) ([]CampaignSummary, error) {
	cs, err := c.RefreshList(ctx)
	if err != nil {
		return nil, err
	}
	return c.summarize(cs), nil
}
