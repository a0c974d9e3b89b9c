package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailbridge/internal/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJournalNewestFirstPerCampaign(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, e := range []store.JournalEntry{
		{ID: "op-1", Action: store.ActionUpload, CampaignID: "7", Outcome: store.OutcomeOK, At: base},
		{ID: "op-2", Action: store.ActionSendOne, CampaignID: "7", RecordID: "70", Outcome: store.OutcomeRejected, Error: "record already sent", At: base.Add(time.Minute)},
		{ID: "op-3", Action: store.ActionSendAll, CampaignID: "8", Outcome: store.OutcomeFailed, At: base.Add(2 * time.Minute)},
	} {
		if err := s.InsertEntry(ctx, e); err != nil {
			t.Fatalf("insert %s: %v", e.ID, err)
		}
	}

	got, err := s.ListEntries(ctx, "7", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "op-2" || got[1].ID != "op-1" {
		t.Fatalf("unexpected entries %+v", got)
	}
	if got[0].RecordID != "70" || got[0].Outcome != store.OutcomeRejected || !got[0].At.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected columns %+v", got[0])
	}

	all, err := s.ListEntries(ctx, "", 2)
	if err != nil || len(all) != 2 || all[0].ID != "op-3" {
		t.Fatalf("expected two newest across campaigns, got %+v %v", all, err)
	}
}

func TestListEmptyIsNonNil(t *testing.T) {
	s := openTemp(t)
	got, err := s.ListEntries(context.Background(), "missing", 5)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %v %v", got, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.InsertEntry(ctx, store.JournalEntry{ID: "op-1", Action: store.ActionDelete, CampaignID: "3", Outcome: store.OutcomeOK, At: time.Now()}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, _ := s.ListEntries(ctx, "3", 0)
	if len(got) != 1 || got[0].Action != store.ActionDelete {
		t.Fatalf("expected entry to survive reopen, got %+v", got)
	}
}
