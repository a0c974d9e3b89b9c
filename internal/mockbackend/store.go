package mockbackend

import (
	"sort"
	"sync"
	"time"
)

type campaign struct {
	ID         int64
	Title      string
	UploadedAt time.Time
	Records    []*record
}

type record struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Subject      *string    `json:"subject"`
	Body         string     `json:"body"`
	CC           string     `json:"cc"`
	BCC          string     `json:"bcc"`
	Attachments  []string   `json:"attachments"`
	IsSent       bool       `json:"is_sent"`
	SendAttempts int        `json:"send_attempts"`
	LastSentAt   *time.Time `json:"last_sent_at"`
	ErrorMessage string     `json:"error_message"`

	campaignID int64
}

type campaignSummary struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	UploadedAt time.Time `json:"uploaded_at"`
	SentCount  int       `json:"sent_count"`
	TotalCount int       `json:"total_count"`
}

type campaignDetail struct {
	campaignSummary
	Records []record `json:"email_records"`
}

// Store is the in-memory campaign database behind the mock backend.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	campaigns map[int64]*campaign
	records   map[int64]*record
}

func NewStore() *Store {
	return &Store{
		campaigns: make(map[int64]*campaign),
		records:   make(map[int64]*record),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Create(title string, rows []Row, now time.Time) campaignSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &campaign{ID: s.id(), Title: title, UploadedAt: now}
	for _, row := range rows {
		r := &record{
			ID:          s.id(),
			Name:        row.Name,
			Email:       row.Email,
			Body:        row.Body,
			CC:          row.CC,
			BCC:         row.BCC,
			Attachments: row.Attachments,
			campaignID:  c.ID,
		}
		if row.Subject != "" {
			subj := row.Subject
			r.Subject = &subj
		}
		if r.Attachments == nil {
			r.Attachments = []string{}
		}
		c.Records = append(c.Records, r)
		s.records[r.ID] = r
	}
	s.campaigns[c.ID] = c
	return summarize(c)
}

// List returns campaigns newest first.
func (s *Store) List() []campaignSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]campaignSummary, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, summarize(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out
}

func (s *Store) Get(id int64) (campaignDetail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaignDetail{}, false
	}
	d := campaignDetail{campaignSummary: summarize(c), Records: make([]record, 0, len(c.Records))}
	for _, r := range c.Records {
		d.Records = append(d.Records, *r)
	}
	return d, true
}

func (s *Store) Delete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false
	}
	for _, r := range c.Records {
		delete(s.records, r.ID)
	}
	delete(s.campaigns, id)
	return true
}

// Record returns a copy of the record and whether it exists.
func (s *Store) Record(id int64) (record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return record{}, false
	}
	return *r, true
}

// Unsent lists the ids of unsent records of a campaign in upload order.
func (s *Store) Unsent(campaignID int64) ([]int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, false
	}
	ids := []int64{}
	for _, r := range c.Records {
		if !r.IsSent {
			ids = append(ids, r.ID)
		}
	}
	return ids, true
}

// MarkAttempt records a delivery attempt. A sent record stays sent.
func (s *Store) MarkAttempt(id int64, at time.Time, deliveryErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.IsSent {
		return
	}
	r.SendAttempts++
	r.LastSentAt = &at
	if deliveryErr != nil {
		r.ErrorMessage = deliveryErr.Error()
		return
	}
	r.IsSent = true
	r.ErrorMessage = ""
}

func summarize(c *campaign) campaignSummary {
	sent := 0
	for _, r := range c.Records {
		if r.IsSent {
			sent++
		}
	}
	return campaignSummary{
		ID:         c.ID,
		Title:      c.Title,
		UploadedAt: c.UploadedAt,
		SentCount:  sent,
		TotalCount: len(c.Records),
	}
}
