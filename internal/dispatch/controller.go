package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mailbridge/internal/backend"
	"mailbridge/internal/domain"
	"mailbridge/internal/observability"
	"mailbridge/internal/poller"
)

const (
	DefaultGrace          = 1500 * time.Millisecond
	DefaultRefreshTimeout = 10 * time.Second
)

var (
	ErrRecordInFlight   = errors.New("record send already in flight")
	ErrCampaignInFlight = errors.New("campaign send-all already in flight")
	ErrAlreadySent      = errors.New("record already sent")
	ErrNoRecipients     = errors.New("campaign has no recipients")
	ErrAllSent          = errors.New("campaign already fully sent")
	ErrUnknownRecord    = errors.New("record not in campaign")
	ErrClosed           = errors.New("dispatch controller closed")
)

type Sender interface {
	SendRecord(ctx context.Context, recordID domain.ID) (backend.Ack, error)
	SendCampaign(ctx context.Context, campaignID domain.ID) (backend.Ack, error)
}

// Campaign is the read side of a campaign view. The controller never writes
// counts; it only decides legality from them.
type Campaign interface {
	ID() domain.ID
	Counts() (sent, total int)
	Record(id domain.ID) (domain.EmailRecord, bool)
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

// Controller issues send requests under per-target in-flight guards. Record
// and campaign ids live in separate sets; operations on different targets
// run independently.
type Controller struct {
	Sender Sender

	// Grace is the delay before the status refresh that follows a send-all.
	Grace          time.Duration
	RefreshTimeout time.Duration

	mu        sync.Mutex
	records   map[domain.ID]struct{}
	campaigns map[domain.ID]struct{}
	timers    map[*time.Timer]domain.ID
	closed    bool
	wg        sync.WaitGroup
}

func (c *Controller) init() {
	if c.records == nil {
		c.records = make(map[domain.ID]struct{})
		c.campaigns = make(map[domain.ID]struct{})
		c.timers = make(map[*time.Timer]domain.ID)
	}
}

// RecordState reports the affordance for one record of camp.
func (c *Controller) RecordState(camp Campaign, recordID domain.ID) RecordState {
	rec, _ := camp.Record(recordID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	_, inFlight := c.records[recordID]
	return RecordStateFor(rec.IsSent, inFlight)
}

func (c *Controller) SendAllState(camp Campaign) SendAllState {
	sent, total := camp.Counts()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	_, inFlight := c.campaigns[camp.ID()]
	return SendAllStateFor(sent, total, inFlight)
}

// SendOne sends a single record. The in-flight marker is cleared whatever
// the outcome, then the campaign is refreshed so the server's isSent is
// observed. Refresh failures are logged, not returned.
func (c *Controller) SendOne(ctx context.Context, camp Campaign, ref Refresher, recordID domain.ID) error {
	rec, ok := camp.Record(recordID)
	if !ok {
		return c.reject("record", "unknown", ErrUnknownRecord)
	}
	if rec.IsSent {
		return c.reject("record", "already_sent", ErrAlreadySent)
	}

	c.mu.Lock()
	c.init()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, busy := c.records[recordID]; busy {
		c.mu.Unlock()
		return c.reject("record", "in_flight", ErrRecordInFlight)
	}
	c.records[recordID] = struct{}{}
	c.mu.Unlock()

	start := time.Now()
	_, err := c.Sender.SendRecord(ctx, recordID)

	c.mu.Lock()
	delete(c.records, recordID)
	c.mu.Unlock()

	c.observe("record", err)
	if err != nil {
		slog.Error("send record failed", "campaign_id", camp.ID(), "record_id", recordID, "duration", time.Since(start), "err", err)
	} else {
		slog.Info("send record accepted", "campaign_id", camp.ID(), "record_id", recordID, "duration", time.Since(start))
	}

	if ref != nil {
		c.refresh(ctx, ref, camp.ID())
	}
	return err
}

// SendAll asks the backend to send every unsent record of camp. The backend
// works asynchronously, so success only means accepted; a refresh is
// scheduled after Grace instead of assuming completion.
func (c *Controller) SendAll(ctx context.Context, camp Campaign, ref Refresher) error {
	id := camp.ID()
	sent, total := camp.Counts()

	c.mu.Lock()
	c.init()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, inFlight := c.campaigns[id]
	if st := SendAllStateFor(sent, total, inFlight); !st.Enabled() {
		c.mu.Unlock()
		return c.reject("campaign", string(st), st.err())
	}
	c.campaigns[id] = struct{}{}
	c.mu.Unlock()

	start := time.Now()
	ack, err := c.Sender.SendCampaign(ctx, id)

	c.mu.Lock()
	delete(c.campaigns, id)
	c.mu.Unlock()

	c.observe("campaign", err)
	if err != nil {
		slog.Error("send all failed", "campaign_id", id, "duration", time.Since(start), "err", err)
	} else {
		slog.Info("send all accepted", "campaign_id", id, "http_status", ack.StatusCode, "duration", time.Since(start))
	}

	if ref != nil {
		c.scheduleRefresh(context.WithoutCancel(ctx), ref, id)
	}
	return err
}

func (c *Controller) scheduleRefresh(ctx context.Context, ref Refresher, id domain.ID) {
	grace := c.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(grace, func() {
		defer c.wg.Done()
		c.mu.Lock()
		_, live := c.timers[t]
		delete(c.timers, t)
		c.mu.Unlock()
		if !live {
			return
		}
		c.refresh(ctx, ref, id)
	})
	c.timers[t] = id
}

// CancelRefreshes drops the delayed refreshes scheduled for campaignID.
// One that already fired is left to finish.
func (c *Controller) CancelRefreshes(campaignID domain.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, id := range c.timers {
		if id != campaignID {
			continue
		}
		if t.Stop() {
			c.wg.Done()
		}
		delete(c.timers, t)
	}
}

func (c *Controller) refresh(ctx context.Context, ref Refresher, id domain.ID) {
	timeout := c.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := ref.Refresh(rctx)
	if err != nil && !errors.Is(err, domain.ErrStaleRead) && !errors.Is(err, poller.ErrClosed) {
		slog.Warn("post-dispatch refresh failed", "campaign_id", id, "err", err)
	}
}

// Close cancels pending delayed refreshes and waits for any that already
// started. In-flight sends finish normally.
func (c *Controller) Close() {
	c.mu.Lock()
	c.init()
	c.closed = true
	for t := range c.timers {
		if t.Stop() {
			c.wg.Done()
		}
		delete(c.timers, t)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// PendingRefreshes returns how many delayed refreshes are scheduled.
func (c *Controller) PendingRefreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Controller) reject(kind, reason string, err error) error {
	observability.GuardRejections.WithLabelValues(kind, reason).Inc()
	return err
}

func (c *Controller) observe(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if backend.Timeout(err) {
			result = "timeout"
		}
	}
	observability.Dispatches.WithLabelValues(kind, result).Inc()
}
