package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mailbridge/internal/domain"
	"mailbridge/internal/observability"
	"mailbridge/internal/viewmodel"
)

const DefaultInterval = 5 * time.Second

type Fetcher interface {
	GetCampaign(ctx context.Context, id domain.ID) (domain.CampaignDetail, error)
}

var ErrClosed = errors.New("poller closed")

// Poller refetches one campaign on a fixed interval and replaces the view
// with each response. Stop and Close guarantee that no fetch is started and
// no view write happens once they return; a response that arrives later is
// discarded.
type Poller struct {
	Fetcher  Fetcher
	View     *viewmodel.Campaign
	Interval time.Duration

	// StopWhenAllSent ends the polling loop once the campaign reaches its
	// terminal state. Load still works afterwards; Refresh does not.
	StopWhenAllSent bool

	mu      sync.Mutex
	epoch   uint64
	running bool
	closed  bool
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start begins polling with an immediate first tick. Calling Start on a
// running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error { return p.start(ctx, true) }

// Schedule begins polling with the first tick one interval from now, for a
// view that was just loaded.
func (p *Poller) Schedule(ctx context.Context) error { return p.start(ctx, false) }

func (p *Poller) start(ctx context.Context, immediate bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.runCtx = loopCtx
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.epoch, p.done, immediate)
	return nil
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop cancels the loop and any in-flight fetch, then waits for the loop to
// exit. The poller can be started again.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.epoch++
	done := p.halt()
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops the poller for good. Later Start and Refresh calls fail.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Stop()
}

// halt must be called with p.mu held.
func (p *Poller) halt() chan struct{} {
	if !p.running {
		return nil
	}
	p.running = false
	p.cancel()
	return p.done
}

// Refresh fetches once outside the schedule, e.g. right after a dispatch.
// It only runs while the poller is running: a stopped poller returns
// domain.ErrStaleRead without fetching, and Stop cancels a refresh that is
// already in flight.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.running {
		p.mu.Unlock()
		return domain.ErrStaleRead
	}
	epoch, runCtx := p.epoch, p.runCtx
	p.mu.Unlock()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unbind := context.AfterFunc(runCtx, cancel)
	defer unbind()
	err := p.fetch(rctx, epoch)
	if err != nil && runCtx.Err() != nil {
		return domain.ErrStaleRead
	}
	return err
}

// Load fetches once whether or not the poller is running. Use it for the
// first load of a view or when the caller explicitly asks for fresh state
// after a terminal stop. A Stop racing the fetch still discards it.
func (p *Poller) Load(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	epoch := p.epoch
	p.mu.Unlock()
	return p.fetch(ctx, epoch)
}

func (p *Poller) fetch(ctx context.Context, epoch uint64) error {
	d, err := p.Fetcher.GetCampaign(ctx, p.View.ID())
	if err != nil {
		return err
	}
	_, err = p.apply(epoch, d)
	return err
}

func (p *Poller) loop(ctx context.Context, epoch uint64, done chan struct{}, immediate bool) {
	defer close(done)

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if !immediate {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	for {
		if p.tick(ctx, epoch) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick reports whether the loop should end.
func (p *Poller) tick(ctx context.Context, epoch uint64) bool {
	if ctx.Err() != nil {
		return true
	}
	d, err := p.Fetcher.GetCampaign(ctx, p.View.ID())
	if err != nil {
		if ctx.Err() != nil {
			observability.PollTicks.WithLabelValues("stale").Inc()
			return true
		}
		observability.PollTicks.WithLabelValues("error").Inc()
		slog.Warn("poll tick failed", "campaign_id", p.View.ID(), "err", err)
		return false
	}

	terminal, err := p.apply(epoch, d)
	if errors.Is(err, domain.ErrStaleRead) {
		return true
	}
	observability.PollTicks.WithLabelValues("ok").Inc()
	if terminal {
		slog.Info("poller stopping at terminal state", "campaign_id", p.View.ID(), "sent", d.SentCount, "total", d.TotalCount)
		return true
	}
	return false
}

// apply writes d to the view unless the poller was stopped since epoch was
// read. The write happens under p.mu so Stop cannot return in between.
func (p *Poller) apply(epoch uint64, d domain.CampaignDetail) (terminal bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.epoch != epoch {
		return false, domain.ErrStaleRead
	}
	p.View.Replace(d)

	if p.StopWhenAllSent && p.running && d.Progress() == domain.ProgressAllSent {
		p.epoch++
		p.running = false
		p.cancel()
		return true, nil
	}
	return false, nil
}
