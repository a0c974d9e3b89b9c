package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mailbridge/internal/domain"
	"mailbridge/internal/viewmodel"
)

type scriptedFetcher struct {
	calls int32
	fn    func(ctx context.Context, call int) (domain.CampaignDetail, error)
}

func (f *scriptedFetcher) GetCampaign(ctx context.Context, id domain.ID) (domain.CampaignDetail, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.fn(ctx, int(n))
}

func (f *scriptedFetcher) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func progress(sent, total int) domain.CampaignDetail {
	d := domain.CampaignDetail{Campaign: domain.Campaign{ID: "c1", SentCount: sent, TotalCount: total}}
	for i := 0; i < total; i++ {
		d.Records = append(d.Records, domain.EmailRecord{ID: domain.ID(rune('a' + i)), IsSent: i < sent})
	}
	return d
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestPollerTicksAndReplaces(t *testing.T) {
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		if call > 3 {
			return progress(3, 3), nil
		}
		return progress(call, 3), nil
	}}
	view := viewmodel.NewCampaign("c1")
	p := &Poller{Fetcher: f, View: view, Interval: 5 * time.Millisecond}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	waitFor(t, func() bool { return f.Calls() >= 3 })
	waitFor(t, func() bool {
		sent, _ := view.Counts()
		return sent == 3
	})
}

func TestPollerSurvivesFailedTicks(t *testing.T) {
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		if call <= 2 {
			return domain.CampaignDetail{}, errors.New("backend down")
		}
		return progress(1, 2), nil
	}}
	view := viewmodel.NewCampaign("c1")
	p := &Poller{Fetcher: f, View: view, Interval: 5 * time.Millisecond}

	_ = p.Start(context.Background())
	defer p.Close()

	waitFor(t, func() bool {
		_, ok := view.Snapshot()
		return ok
	})
	if !p.Running() {
		t.Fatalf("poller must keep running after failed ticks")
	}
}

func TestStopDiscardsLateResponse(t *testing.T) {
	started := make(chan struct{}, 1)
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		started <- struct{}{}
		<-ctx.Done()
		// the response still arrives after cancellation
		return progress(1, 1), nil
	}}
	view := viewmodel.NewCampaign("c1")
	p := &Poller{Fetcher: f, View: view, Interval: time.Millisecond}

	_ = p.Start(context.Background())
	<-started
	p.Stop()

	if p.Running() {
		t.Fatalf("expected stopped")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := view.Snapshot(); ok {
		t.Fatalf("late response must not reach the view")
	}
	if f.Calls() != 1 {
		t.Fatalf("expected no fetch after stop, got %d", f.Calls())
	}
}

func TestLoadRacingStopIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		close(started)
		<-release
		return progress(1, 1), nil
	}}
	view := viewmodel.NewCampaign("c1")
	p := &Poller{Fetcher: f, View: view}

	errCh := make(chan error, 1)
	go func() { errCh <- p.Load(context.Background()) }()
	<-started
	p.Stop()
	close(release)

	if err := <-errCh; !errors.Is(err, domain.ErrStaleRead) {
		t.Fatalf("expected stale read, got %v", err)
	}
	if view.Version() != 0 {
		t.Fatalf("view must be untouched")
	}
}

func TestStopWhenAllSent(t *testing.T) {
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		return progress(2, 2), nil
	}}
	view := viewmodel.NewCampaign("c1")
	p := &Poller{Fetcher: f, View: view, Interval: time.Millisecond, StopWhenAllSent: true}

	_ = p.Start(context.Background())
	waitFor(t, func() bool { return !p.Running() })
	time.Sleep(10 * time.Millisecond)
	if f.Calls() != 1 {
		t.Fatalf("expected a single fetch, got %d", f.Calls())
	}
	if sent, total := view.Counts(); sent != 2 || total != 2 {
		t.Fatalf("unexpected counts %d/%d", sent, total)
	}

	// a dispatch follow-up refresh is skipped once stopped; an explicit
	// load still lands
	if err := p.Refresh(context.Background()); !errors.Is(err, domain.ErrStaleRead) {
		t.Fatalf("expected stale read from refresh, got %v", err)
	}
	if f.Calls() != 1 {
		t.Fatalf("refresh on a stopped poller must not fetch")
	}
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.Calls() != 2 {
		t.Fatalf("expected load to fetch, got %d calls", f.Calls())
	}
	p.Stop()
}

func TestClosedPollerRejectsWork(t *testing.T) {
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		return progress(0, 1), nil
	}}
	p := &Poller{Fetcher: f, View: viewmodel.NewCampaign("c1")}
	p.Close()

	if err := p.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed on start, got %v", err)
	}
	if err := p.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed on refresh, got %v", err)
	}
	if err := p.Load(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed on load, got %v", err)
	}
	if f.Calls() != 0 {
		t.Fatalf("closed poller must not fetch")
	}
}

func TestSentFlagMonotonicAcrossSession(t *testing.T) {
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		sent := call
		if sent > 4 {
			sent = 4
		}
		return progress(sent, 4), nil
	}}
	view := viewmodel.NewCampaign("c1")
	updates, cancel := view.Subscribe()
	defer cancel()

	p := &Poller{Fetcher: f, View: view, Interval: time.Millisecond, StopWhenAllSent: true}
	_ = p.Start(context.Background())
	defer p.Close()

	seen := map[domain.ID]bool{}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case d := <-updates:
			for _, r := range d.Records {
				if seen[r.ID] && !r.IsSent {
					t.Fatalf("record %s regressed to unsent", r.ID)
				}
				if r.IsSent {
					seen[r.ID] = true
				}
			}
			if d.Progress() == domain.ProgressAllSent {
				return
			}
		case <-timeout:
			t.Fatalf("campaign never reached all sent")
		}
	}
}

func TestRefreshAfterStopDoesNothing(t *testing.T) {
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		return progress(0, 1), nil
	}}
	view := viewmodel.NewCampaign("c1")
	p := &Poller{Fetcher: f, View: view, Interval: time.Hour}
	defer p.Close()

	if err := p.Refresh(context.Background()); !errors.Is(err, domain.ErrStaleRead) {
		t.Fatalf("expected stale read before start, got %v", err)
	}

	_ = p.Start(context.Background())
	waitFor(t, func() bool { return view.Version() == 1 })
	p.Stop()

	if err := p.Refresh(context.Background()); !errors.Is(err, domain.ErrStaleRead) {
		t.Fatalf("expected stale read after stop, got %v", err)
	}
	if f.Calls() != 1 || view.Version() != 1 {
		t.Fatalf("stopped poller fetched or wrote: calls %d version %d", f.Calls(), view.Version())
	}
}

func TestStopCancelsInFlightRefresh(t *testing.T) {
	refreshing := make(chan struct{})
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		if call == 1 {
			return progress(0, 1), nil
		}
		close(refreshing)
		<-ctx.Done()
		return domain.CampaignDetail{}, ctx.Err()
	}}
	view := viewmodel.NewCampaign("c1")
	p := &Poller{Fetcher: f, View: view, Interval: time.Hour}
	defer p.Close()

	_ = p.Start(context.Background())
	waitFor(t, func() bool { return view.Version() == 1 })

	errCh := make(chan error, 1)
	go func() { errCh <- p.Refresh(context.Background()) }()
	<-refreshing
	p.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrStaleRead) {
			t.Fatalf("expected stale read from canceled refresh, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not cancel the refresh")
	}
	if view.Version() != 1 {
		t.Fatalf("view must be untouched")
	}
}

func TestScheduleWaitsOneInterval(t *testing.T) {
	f := &scriptedFetcher{fn: func(ctx context.Context, call int) (domain.CampaignDetail, error) {
		return progress(0, 1), nil
	}}
	p := &Poller{Fetcher: f, View: viewmodel.NewCampaign("c1"), Interval: 30 * time.Millisecond}
	defer p.Close()

	if err := p.Schedule(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if f.Calls() != 0 {
		t.Fatalf("scheduled poller must not tick immediately")
	}
	waitFor(t, func() bool { return f.Calls() >= 1 })
}
