package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"mailbridge/internal/backend"
	"mailbridge/internal/intake"
	"mailbridge/internal/mockbackend"
	"mailbridge/internal/notify"
	"mailbridge/internal/notify/sqsnotify"
	"mailbridge/internal/service"
)

type harness struct {
	mock  *mockbackend.Server
	store *mockbackend.Store
	deps  *Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := mockbackend.NewStore()
	mb := mockbackend.New(st, "tok")
	r := mux.NewRouter()
	mb.Register(r)
	ts := httptest.NewServer(r)

	svc := service.New(service.Options{
		Backend:      &backend.Client{BaseURL: ts.URL, Tokens: backend.StaticToken("tok")},
		PollInterval: 20 * time.Millisecond,
		SendAllGrace: time.Millisecond,
	})
	t.Cleanup(func() {
		svc.Shutdown()
		ts.Close()
		mb.Close()
	})
	return &harness{mock: mb, store: st, deps: &Deps{Console: svc}}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(h.deps)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRoster(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	body := "Name,Email,Subject,Body,Attachments\nAda,ada@example.com,,Hi,https://drive.google.com/file/d/abc123/view\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestUploadAndList(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "upload", "--title", "Spring", "--file", writeRoster(t, "roster.csv"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.Contains(out, `"Spring" with 1 records`) {
		t.Fatalf("unexpected upload output %q", out)
	}

	out, err = h.run(t, "", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Spring") || !strings.Contains(out, "0/1") || !strings.Contains(out, "send all") {
		t.Fatalf("unexpected list output %q", out)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "upload", "--title", "Spring", "--file", writeRoster(t, "roster.docx"))
	if !intake.IsReason(err, intake.ReasonUnsupportedExtension) {
		t.Fatalf("expected unsupported extension, got %v", err)
	}
	if got := len(h.store.List()); got != 0 {
		t.Fatalf("nothing should be uploaded, got %d campaigns", got)
	}
}

func TestShowRendersSubjectFallbackAndPreview(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "", "upload", "--title", "Spring", "--file", writeRoster(t, "roster.csv")); err != nil {
		t.Fatal(err)
	}
	id := h.store.List()[0].ID

	out, err := h.run(t, "", "show", itoa(id))
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "ada@example.com") || !strings.Contains(out, " - ") {
		t.Fatalf("expected record row with '-' subject, got %q", out)
	}
	if !strings.Contains(out, "https://drive.google.com/file/d/abc123/preview") {
		t.Fatalf("expected drive preview url, got %q", out)
	}
}

func TestDeleteAsksForConfirmation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "", "upload", "--title", "Spring", "--file", writeRoster(t, "roster.csv")); err != nil {
		t.Fatal(err)
	}
	id := itoa(h.store.List()[0].ID)

	out, err := h.run(t, "n\n", "delete", id)
	if err != nil || !strings.Contains(out, "aborted") {
		t.Fatalf("expected abort, got %q %v", out, err)
	}
	if len(h.store.List()) != 1 {
		t.Fatalf("campaign should survive an aborted delete")
	}

	if _, err := h.run(t, "", "delete", id, "--yes"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(h.store.List()) != 0 {
		t.Fatalf("campaign should be gone")
	}
}

func TestSendAllWaitFollowsUntilDone(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "", "upload", "--title", "Spring", "--file", writeRoster(t, "roster.csv")); err != nil {
		t.Fatal(err)
	}
	id := itoa(h.store.List()[0].ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	cmd := NewRootCmd(h.deps)
	cmd.SetArgs([]string{"send-all", id, "--wait"})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("send-all: %v", err)
	}
	if !strings.Contains(out.String(), "1/1 sent") {
		t.Fatalf("expected final progress line, got %q", out.String())
	}
}

func TestPreviewExternal(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "", "preview", "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "open externally") {
		t.Fatalf("unexpected preview output %q", out)
	}
}

type fakeSource struct{ items []notify.Notification }

func (f fakeSource) Poll(ctx context.Context, handler sqsnotify.Handler) error {
	for _, n := range f.items {
		if err := handler(ctx, n); err != nil {
			return err
		}
	}
	return context.Canceled
}

func TestNotificationsTail(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "", "notifications"); err == nil {
		t.Fatalf("expected an error without a queue")
	}

	h.deps.Notifications = fakeSource{items: []notify.Notification{
		notify.New(notify.LevelError, "send_all", "7", "", "backend returned 502"),
	}}
	out, err := h.run(t, "", "notifications")
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if !strings.Contains(out, "campaign=7") || !strings.Contains(out, "backend returned 502") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestOutputFormats(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "", "upload", "--title", "Spring", "--file", writeRoster(t, "roster.csv")); err != nil {
		t.Fatal(err)
	}

	out, err := h.run(t, "", "list", "-o", "yaml")
	if err != nil {
		t.Fatalf("list yaml: %v", err)
	}
	if !strings.Contains(out, "title: Spring") || !strings.Contains(out, "total_count: 1") {
		t.Fatalf("expected yaml keyed by json names, got %q", out)
	}

	out, err = h.run(t, "", "preview", "--json", "https://example.com/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"kind": "image"`) {
		t.Fatalf("unexpected json output %q", out)
	}

	if _, err := h.run(t, "", "list", "-o", "xml"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}
