package viewmodel

import (
	"sync"

	"mailbridge/internal/domain"
)

// List is the dashboard's campaign list. It is refreshed on demand only.
type List struct {
	mu        sync.RWMutex
	campaigns []domain.Campaign
	loaded    bool
}

func (l *List) Replace(cs []domain.Campaign) {
	cp := make([]domain.Campaign, len(cs))
	copy(cp, cs)
	l.mu.Lock()
	l.campaigns = cp
	l.loaded = true
	l.mu.Unlock()
}

// Remove drops a campaign after the backend confirmed its deletion.
func (l *List) Remove(id domain.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.campaigns {
		if c.ID == id {
			l.campaigns = append(l.campaigns[:i:i], l.campaigns[i+1:]...)
			return true
		}
	}
	return false
}

func (l *List) Snapshot() ([]domain.Campaign, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Campaign, len(l.campaigns))
	copy(out, l.campaigns)
	return out, l.loaded
}

func (l *List) Get(id domain.ID) (domain.Campaign, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.campaigns {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Campaign{}, false
}
