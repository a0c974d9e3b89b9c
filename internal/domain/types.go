package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// ID is an opaque backend identifier. The backend emits integers today but
// the console never does arithmetic on them, so both JSON numbers and strings
// decode into the same value.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type Progress string

const (
	ProgressNoRecipients Progress = "no_recipients"
	ProgressAllSent      Progress = "all_sent"
	ProgressInProgress   Progress = "in_progress"
)

// Campaign is one uploaded roster and its aggregate send progress.
type Campaign struct {
	ID         ID        `json:"id"`
	Title      string    `json:"title"`
	UploadedAt time.Time `json:"uploaded_at"`
	SentCount  int       `json:"sent_count"`
	TotalCount int       `json:"total_count"`
}

func (c Campaign) Progress() Progress {
	switch {
	case c.TotalCount == 0:
		return ProgressNoRecipients
	case c.SentCount >= c.TotalCount:
		return ProgressAllSent
	default:
		return ProgressInProgress
	}
}

func (c Campaign) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	if c.SentCount < 0 || c.TotalCount < 0 || c.SentCount > c.TotalCount {
		return ErrBadCounts
	}
	return nil
}

// EmailRecord is one recipient row. IsSent never goes back to false for the
// lifetime of the record.
type EmailRecord struct {
	ID           ID         `json:"id"`
	CampaignID   ID         `json:"-"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Subject      *string    `json:"subject"`
	Body         string     `json:"body"`
	CC           string     `json:"cc,omitempty"`
	BCC          string     `json:"bcc,omitempty"`
	Attachments  []string   `json:"attachments"`
	IsSent       bool       `json:"is_sent"`
	SendAttempts int        `json:"send_attempts,omitempty"`
	LastSentAt   *time.Time `json:"last_sent_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func (r EmailRecord) SubjectOr(fallback string) string {
	if r.Subject == nil || *r.Subject == "" {
		return fallback
	}
	return *r.Subject
}

// CampaignDetail is the campaign detail payload: the campaign plus every
// record it owns.
type CampaignDetail struct {
	Campaign
	Records []EmailRecord `json:"email_records"`
}

// campaignDetailWire mirrors the backend payload; counts are optional there.
type campaignDetailWire struct {
	ID         ID            `json:"id"`
	Title      string        `json:"title"`
	UploadedAt time.Time     `json:"uploaded_at"`
	SentCount  *int          `json:"sent_count"`
	TotalCount *int          `json:"total_count"`
	Records    []EmailRecord `json:"email_records"`
}

// UnmarshalJSON keeps server counts when present and otherwise derives them
// from the records, and stamps every record with its owning campaign.
func (d *CampaignDetail) UnmarshalJSON(b []byte) error {
	var w campaignDetailWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d.Campaign = Campaign{ID: w.ID, Title: w.Title, UploadedAt: w.UploadedAt}
	d.Records = w.Records
	sent := 0
	for i := range d.Records {
		d.Records[i].CampaignID = w.ID
		if d.Records[i].Attachments == nil {
			d.Records[i].Attachments = []string{}
		}
		if d.Records[i].IsSent {
			sent++
		}
	}
	if w.TotalCount != nil {
		d.TotalCount = *w.TotalCount
	} else {
		d.TotalCount = len(d.Records)
	}
	if w.SentCount != nil {
		d.SentCount = *w.SentCount
	} else {
		d.SentCount = sent
	}
	return nil
}

func (d CampaignDetail) Record(id ID) (EmailRecord, bool) {
	for _, r := range d.Records {
		if r.ID == id {
			return r, true
		}
	}
	return EmailRecord{}, false
}

var (
	ErrMissingID  = errors.New("missing id")
	ErrBadCounts  = errors.New("sent_count must be within [0, total_count]")
	ErrNotFound   = errors.New("not found")
	ErrStaleRead  = errors.New("stale read discarded")
	ErrNotWatched = errors.New("campaign is not being watched")
)
