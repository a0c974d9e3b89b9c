package poller

import (
	"context"

	"mailbridge/internal/domain"
	"mailbridge/internal/viewmodel"
)

type ListFetcher interface {
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
}

// ListRefresher refreshes the campaign list on demand. The list view has no
// interval; it is refreshed on open and after uploads.
type ListRefresher struct {
	Fetcher ListFetcher
	View    *viewmodel.List
}

func (l *ListRefresher) RefreshList(ctx context.Context) error {
	cs, err := l.Fetcher.ListCampaigns(ctx)
	if err != nil {
		return err
	}
	l.View.Replace(cs)
	return nil
}
