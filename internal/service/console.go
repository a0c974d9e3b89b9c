package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mailbridge/internal/backend"
	"mailbridge/internal/dispatch"
	"mailbridge/internal/domain"
	"mailbridge/internal/intake"
	"mailbridge/internal/notify"
	"mailbridge/internal/poller"
	"mailbridge/internal/store"
	"mailbridge/internal/util"
	"mailbridge/internal/viewmodel"
)

type Backend interface {
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	UploadCampaign(ctx context.Context, title, filename string, r io.Reader) (domain.Campaign, error)
	DeleteCampaign(ctx context.Context, id domain.ID) error
	GetCampaign(ctx context.Context, id domain.ID) (domain.CampaignDetail, error)
	SendRecord(ctx context.Context, recordID domain.ID) (backend.Ack, error)
	SendCampaign(ctx context.Context, campaignID domain.ID) (backend.Ack, error)
}

type Options struct {
	Backend  Backend
	Notifier notify.Notifier
	Journal  store.Journal

	PollInterval    time.Duration
	StopWhenAllSent bool
	SendAllGrace    time.Duration
	RefreshTimeout  time.Duration

	// WatchLease stops a session's poller once nobody has read its view or
	// subscribed to it for this long. Zero means six poll intervals.
	WatchLease time.Duration
}

// Console ties the core together for one operator: the campaign list, one
// watch session per open campaign, and the shared dispatch controller.
type Console struct {
	backend  Backend
	notifier notify.Notifier
	journal  store.Journal
	dispatch *dispatch.Controller

	pollInterval    time.Duration
	stopWhenAllSent bool
	lease           time.Duration

	list  *viewmodel.List
	lists *poller.ListRefresher

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[domain.ID]*Session
}

// Session is one open campaign detail view and the poller that feeds it.
type Session struct {
	View   *viewmodel.Campaign
	Poller *poller.Poller

	ready    chan struct{}
	err      error
	lastRead atomic.Int64
	expired  atomic.Bool
}

func (s *Session) touch() { s.lastRead.Store(time.Now().UnixNano()) }

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastRead.Load()))
}

func New(opts Options) *Console {
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if opts.Journal == nil {
		opts.Journal = store.Discard{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = poller.DefaultInterval
	}
	lease := opts.WatchLease
	if lease <= 0 {
		lease = 6 * interval
	}
	base, cancel := context.WithCancel(context.Background())
	list := &viewmodel.List{}
	c := &Console{
		backend:  opts.Backend,
		notifier: opts.Notifier,
		journal:  opts.Journal,
		dispatch: &dispatch.Controller{
			Sender:         opts.Backend,
			Grace:          opts.SendAllGrace,
			RefreshTimeout: opts.RefreshTimeout,
		},
		pollInterval:    opts.PollInterval,
		stopWhenAllSent: opts.StopWhenAllSent,
		lease:           lease,
		list:            list,
		lists:           &poller.ListRefresher{Fetcher: opts.Backend, View: list},
		base:            base,
		cancel:          cancel,
		sessions:        make(map[domain.ID]*Session),
	}
	go c.expireIdle()
	return c
}

// RefreshList refetches the campaign list on demand.
func (c *Console) RefreshList(ctx context.Context) ([]domain.Campaign, error) {
	if err := c.lists.RefreshList(ctx); err != nil {
		c.surface(ctx, "list", "", "", err)
		return nil, err
	}
	cs, _ := c.list.Snapshot()
	return cs, nil
}

func (c *Console) Campaigns() ([]domain.Campaign, bool) { return c.list.Snapshot() }

// Upload validates and submits a roster. Validation failures are returned
// to the caller untouched and never journaled.
func (c *Console) Upload(ctx context.Context, title string, f intake.File) (domain.Campaign, error) {
	st := &intake.Stager{Uploader: c.backend, Lists: c.lists}
	created, err := st.SubmitOnce(ctx, title, f)
	var ve *intake.ValidationError
	if errors.As(err, &ve) {
		return domain.Campaign{}, err
	}
	c.record(ctx, store.ActionUpload, created.ID, "", err)
	if err != nil {
		c.surface(ctx, string(store.ActionUpload), "", "", err)
		return domain.Campaign{}, err
	}
	return created, nil
}

// Delete removes a campaign on the backend and then locally. Any open
// session for it is closed.
func (c *Console) Delete(ctx context.Context, id domain.ID) error {
	err := c.backend.DeleteCampaign(ctx, id)
	c.record(ctx, store.ActionDelete, id, "", err)
	if err != nil {
		c.surface(ctx, string(store.ActionDelete), id, "", err)
		return err
	}
	c.list.Remove(id)
	c.Close(id)
	return nil
}

// Open returns the session for id, creating it with a first synchronous
// load and starting its poller. Opening a session whose lease expired
// resumes polling; one that was explicitly unwatched stays stopped.
func (c *Console) Open(ctx context.Context, id domain.ID) (*Session, error) {
	c.mu.Lock()
	if s, ok := c.sessions[id]; ok {
		c.mu.Unlock()
		s.touch()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if s.err == nil && s.expired.CompareAndSwap(true, false) {
			return s, s.Poller.Start(c.base)
		}
		return s, s.err
	}
	view := viewmodel.NewCampaign(id)
	s := &Session{
		ready: make(chan struct{}),
		View:  view,
		Poller: &poller.Poller{
			Fetcher:         c.backend,
			View:            view,
			Interval:        c.pollInterval,
			StopWhenAllSent: c.stopWhenAllSent,
		},
	}
	s.touch()
	c.sessions[id] = s
	c.mu.Unlock()

	err := s.Poller.Load(ctx)
	if err == nil {
		err = s.Poller.Schedule(c.base)
	}
	if err != nil {
		s.err = err
		close(s.ready)
		c.Close(id)
		c.surface(ctx, "open", id, "", err)
		return nil, err
	}
	close(s.ready)
	slog.Info("campaign watch started", "campaign_id", id)
	return s, nil
}

func (c *Console) session(id domain.ID) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Watch (re)starts polling for an open campaign, opening it if needed.
func (c *Console) Watch(ctx context.Context, id domain.ID) (*Session, error) {
	if s, ok := c.session(id); ok {
		s.touch()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if s.err != nil {
			return nil, s.err
		}
		s.expired.Store(false)
		return s, s.Poller.Start(c.base)
	}
	return c.Open(ctx, id)
}

// Unwatch stops polling but keeps the last known state. Pending
// post-dispatch refreshes for the campaign are dropped with it.
func (c *Console) Unwatch(id domain.ID) error {
	s, ok := c.session(id)
	if !ok {
		return domain.ErrNotWatched
	}
	s.expired.Store(false)
	s.Poller.Stop()
	c.dispatch.CancelRefreshes(id)
	slog.Info("campaign watch stopped", "campaign_id", id)
	return nil
}

// Close drops the session for id. Late poll responses are discarded.
func (c *Console) Close(id domain.ID) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if ok {
		s.Poller.Close()
		c.dispatch.CancelRefreshes(id)
	}
}

// expireIdle stops the poller of every session whose view nobody has read
// or subscribed to within the lease. The state stays readable and the next
// Open or Watch starts polling again.
func (c *Console) expireIdle() {
	every := c.lease / 2
	if every <= 0 {
		every = c.lease
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.base.Done():
			return
		case now := <-t.C:
			c.mu.Lock()
			var idle []*Session
			var ids []domain.ID
			for id, s := range c.sessions {
				if s.View.Subscribers() > 0 {
					s.touch()
					continue
				}
				if s.idleSince(now) >= c.lease && s.Poller.Running() {
					idle = append(idle, s)
					ids = append(ids, id)
				}
			}
			c.mu.Unlock()
			for i, s := range idle {
				s.expired.Store(true)
				s.Poller.Stop()
				c.dispatch.CancelRefreshes(ids[i])
				slog.Info("campaign watch lease expired", "campaign_id", ids[i], "lease", c.lease)
			}
		}
	}
}

// SendOne sends one record. Sending watches the campaign again so the
// follow-up refresh is observed.
func (c *Console) SendOne(ctx context.Context, campaignID, recordID domain.ID) error {
	s, err := c.Watch(ctx, campaignID)
	if err != nil {
		return err
	}
	err = c.dispatch.SendOne(ctx, s.View, s.Poller, recordID)
	c.record(ctx, store.ActionSendOne, campaignID, recordID, err)
	if err != nil && !isGuard(err) {
		c.surface(ctx, string(store.ActionSendOne), campaignID, recordID, err)
	}
	return err
}

func (c *Console) SendAll(ctx context.Context, campaignID domain.ID) error {
	s, err := c.Watch(ctx, campaignID)
	if err != nil {
		return err
	}
	err = c.dispatch.SendAll(ctx, s.View, s.Poller)
	c.record(ctx, store.ActionSendAll, campaignID, "", err)
	if err != nil && !isGuard(err) {
		c.surface(ctx, string(store.ActionSendAll), campaignID, "", err)
	}
	return err
}

func (c *Console) Journal(ctx context.Context, campaignID domain.ID, limit int) ([]store.JournalEntry, error) {
	return c.journal.ListEntries(ctx, string(campaignID), limit)
}

// Shutdown stops every poller and pending delayed refresh.
func (c *Console) Shutdown() {
	c.mu.Lock()
	ids := make([]domain.ID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Close(id)
	}
	c.dispatch.Close()
	c.cancel()
}

func isGuard(err error) bool {
	for _, g := range []error{
		dispatch.ErrRecordInFlight, dispatch.ErrCampaignInFlight, dispatch.ErrAlreadySent,
		dispatch.ErrNoRecipients, dispatch.ErrAllSent, dispatch.ErrUnknownRecord, dispatch.ErrClosed,
	} {
		if errors.Is(err, g) {
			return true
		}
	}
	return false
}

// surface reports a failed operator action. Only transport errors reach the
// operator; anything else is a programming or local error and is logged.
func (c *Console) surface(ctx context.Context, op string, campaignID, recordID domain.ID, err error) {
	if !backend.IsTransport(err) {
		slog.Error("operator action failed", "op", op, "campaign_id", campaignID, "record_id", recordID, "err", err)
		return
	}
	n := notify.New(notify.LevelError, op, campaignID, recordID, err.Error())
	if nerr := c.notifier.Notify(context.WithoutCancel(ctx), n); nerr != nil {
		slog.Warn("notify failed", "op", op, "err", nerr)
	}
}

func (c *Console) record(ctx context.Context, action store.Action, campaignID, recordID domain.ID, err error) {
	e := store.JournalEntry{
		ID:         util.NewOperationID("op"),
		Action:     action,
		CampaignID: string(campaignID),
		RecordID:   string(recordID),
		Outcome:    store.OutcomeOK,
		At:         util.NowUTC(),
	}
	switch {
	case err == nil:
	case isGuard(err):
		e.Outcome = store.OutcomeRejected
		e.Error = err.Error()
	default:
		e.Outcome = store.OutcomeFailed
		e.Error = err.Error()
	}
	if jerr := c.journal.InsertEntry(context.WithoutCancel(ctx), e); jerr != nil {
		slog.Warn("journal insert failed", "action", action, "campaign_id", campaignID, "err", jerr)
	}
}
