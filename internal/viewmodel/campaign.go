// Package viewmodel holds the in-memory campaign state that the poller
// writes and the dispatch controller reads.
package viewmodel

import (
	"log/slog"
	"sync"

	"mailbridge/internal/domain"
	"mailbridge/internal/observability"
)

// Campaign is the detail view of one campaign. Every write is a full
// replace with a server response; there is no merging.
type Campaign struct {
	id domain.ID

	mu       sync.RWMutex
	detail   domain.CampaignDetail
	loaded   bool
	version  uint64
	seenSent map[domain.ID]struct{}
	subs     map[int]chan domain.CampaignDetail
	nextSub  int
}

func NewCampaign(id domain.ID) *Campaign {
	return &Campaign{
		id:       id,
		seenSent: make(map[domain.ID]struct{}),
		subs:     make(map[int]chan domain.CampaignDetail),
	}
}

func (c *Campaign) ID() domain.ID { return c.id }

// Replace installs d as the current state. A record that was sent in an
// earlier response and is now reported unsent is logged and counted but the
// server response still wins.
func (c *Campaign) Replace(d domain.CampaignDetail) {
	c.mu.Lock()
	for _, r := range d.Records {
		if r.IsSent {
			c.seenSent[r.ID] = struct{}{}
			continue
		}
		if _, ok := c.seenSent[r.ID]; ok {
			observability.SentRegressions.Inc()
			slog.Warn("backend reported sent record as unsent", "campaign_id", c.id, "record_id", r.ID)
		}
	}
	c.detail = d
	c.loaded = true
	c.version++
	for _, ch := range c.subs {
		publishLatest(ch, d)
	}
	c.mu.Unlock()
}

// Snapshot returns the current detail. ok is false before the first load.
func (c *Campaign) Snapshot() (d domain.CampaignDetail, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detail, c.loaded
}

func (c *Campaign) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Counts returns the campaign's sent and total counts.
func (c *Campaign) Counts() (sent, total int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detail.SentCount, c.detail.TotalCount
}

func (c *Campaign) Record(id domain.ID) (domain.EmailRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detail.Record(id)
}

// Subscribe delivers each new state, dropping intermediate ones a slow
// reader misses. cancel must be called to release the subscription.
func (c *Campaign) Subscribe() (updates <-chan domain.CampaignDetail, cancel func()) {
	ch := make(chan domain.CampaignDetail, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers reports how many subscriptions are open.
func (c *Campaign) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func publishLatest(ch chan domain.CampaignDetail, d domain.CampaignDetail) {
	for {
		select {
		case ch <- d:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
