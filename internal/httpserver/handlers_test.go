package httpserver_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"mailbridge/internal/backend"
	"mailbridge/internal/httpserver"
	"mailbridge/internal/mockbackend"
	"mailbridge/internal/notify"
	"mailbridge/internal/service"
	"mailbridge/internal/store"
	"mailbridge/internal/store/sqlite"
)

type consoleHarness struct {
	store   *mockbackend.Store
	mock    *mockbackend.Server
	api     *httpserver.API
	handler http.Handler
}

func newConsoleHarness(t *testing.T) *consoleHarness {
	t.Helper()
	return newConsoleHarnessWith(t, store.Discard{})
}

func newConsoleHarnessWith(t *testing.T, journal store.Journal) *consoleHarness {
	t.Helper()
	st := mockbackend.NewStore()
	mb := mockbackend.New(st, "tok")
	br := mux.NewRouter()
	mb.Register(br)
	backendSrv := httptest.NewServer(br)

	rec := &notify.Recorder{}
	svc := service.New(service.Options{
		Backend:      &backend.Client{BaseURL: backendSrv.URL, Tokens: backend.StaticToken("tok")},
		Notifier:     rec,
		Journal:      journal,
		PollInterval: time.Hour,
		SendAllGrace: time.Millisecond,
	})
	t.Cleanup(func() {
		svc.Shutdown()
		backendSrv.Close()
		mb.Close()
	})

	s := httpserver.New()
	api := &httpserver.API{Svc: svc, Notifications: rec}
	api.Register(s.Mux)
	return &consoleHarness{store: st, mock: mb, api: api, handler: s.Mux}
}

func (h *consoleHarness) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func uploadForm(t *testing.T, title, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", title)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

const roster = "Name,Email,Subject\nAda,ada@example.com,Hi\nBob,bob@example.com,\n"

func (h *consoleHarness) seed(t *testing.T) string {
	t.Helper()
	body, ct := uploadForm(t, "Spring", "roster.csv", roster)
	rr := h.do(t, http.MethodPost, "/v1/campaigns", body, ct)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", rr.Code, rr.Body.String())
	}
	return strconv.FormatInt(h.store.List()[0].ID, 10)
}

func TestUploadValidationIs400(t *testing.T) {
	h := newConsoleHarness(t)
	body, ct := uploadForm(t, "Spring", "roster.docx", roster)
	rr := h.do(t, http.MethodPost, "/v1/campaigns", body, ct)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var eb struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &eb)
	if eb.Reason != "unsupported_extension" {
		t.Fatalf("unexpected reason %q", eb.Reason)
	}

	body, ct = uploadForm(t, "  ", "roster.csv", roster)
	if rr := h.do(t, http.MethodPost, "/v1/campaigns", body, ct); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", rr.Code)
	}
	if len(h.store.List()) != 0 {
		t.Fatalf("nothing should reach the backend")
	}
}

func TestUploadWithoutFileIs400(t *testing.T) {
	h := newConsoleHarness(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "Spring")
	_ = mw.Close()
	rr := h.do(t, http.MethodPost, "/v1/campaigns", &buf, mw.FormDataContentType())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var eb struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &eb)
	if eb.Reason != "missing_file" {
		t.Fatalf("unexpected reason %q", eb.Reason)
	}
}

func TestSpilledUploadLeavesNoTempFiles(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	h := newConsoleHarness(t)
	h.api.UploadMemory = 16

	body, ct := uploadForm(t, "Spring", "roster.csv", roster)
	if rr := h.do(t, http.MethodPost, "/v1/campaigns", body, ct); rr.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", rr.Code, rr.Body.String())
	}
	if len(h.store.List()) != 1 {
		t.Fatalf("expected one campaign on the backend")
	}
	left, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("expected spilled parts to be removed, found %d", len(left))
	}
}

func TestListAndDetail(t *testing.T) {
	h := newConsoleHarness(t)
	id := h.seed(t)

	rr := h.do(t, http.MethodGet, "/v1/campaigns", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	var rows []service.CampaignSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil || len(rows) != 1 {
		t.Fatalf("decode list: %v %s", err, rr.Body.String())
	}
	if rows[0].SendAll.Label != "send all" || !rows[0].SendAll.Enabled {
		t.Fatalf("unexpected send-all %+v", rows[0].SendAll)
	}

	rr = h.do(t, http.MethodGet, "/v1/campaigns/"+id, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("detail: %d %s", rr.Code, rr.Body.String())
	}
	var v service.CampaignView
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if !v.Watching || len(v.Records) != 2 || v.Records[1].Subject != "Hi" {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestSendOneAlreadySentIs409(t *testing.T) {
	h := newConsoleHarness(t)
	id := h.seed(t)
	rr := h.do(t, http.MethodGet, "/v1/campaigns/"+id, nil, "")
	var v service.CampaignView
	_ = json.Unmarshal(rr.Body.Bytes(), &v)
	rid := string(v.Records[0].ID)

	rr = h.do(t, http.MethodPost, "/v1/campaigns/"+id+"/records/"+rid+"/send", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("send: %d %s", rr.Code, rr.Body.String())
	}
	h.mock.Wait()

	// A repeat either hits the backend's own already-sent answer (502) and
	// refreshes, or is refused locally once the refresh has landed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = h.do(t, http.MethodPost, "/v1/campaigns/"+id+"/records/"+rid+"/send", nil, "")
		if rr.Code == http.StatusConflict || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for already-sent record, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownCampaignIs404(t *testing.T) {
	h := newConsoleHarness(t)
	rr := h.do(t, http.MethodGet, "/v1/campaigns/999", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = h.do(t, http.MethodGet, "/v1/notifications", nil, "")
	var ns []notify.Notification
	_ = json.Unmarshal(rr.Body.Bytes(), &ns)
	if len(ns) != 1 || ns[0].Level != notify.LevelError {
		t.Fatalf("expected one error notification, got %+v", ns)
	}
}

func TestDeleteAndUnwatchUnknown(t *testing.T) {
	h := newConsoleHarness(t)
	id := h.seed(t)

	if rr := h.do(t, http.MethodDelete, "/v1/campaigns/"+id, nil, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if len(h.store.List()) != 0 {
		t.Fatalf("backend should have no campaigns")
	}
	if rr := h.do(t, http.MethodDelete, "/v1/campaigns/"+id+"/watch", nil, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unwatching a closed campaign, got %d", rr.Code)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	h := newConsoleHarness(t)
	rr := h.do(t, http.MethodGet, "/v1/attachments/preview?url=https%3A%2F%2Fcdn.example.com%2Fx.pdf", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("preview: %d", rr.Code)
	}
	var p struct {
		Kind     string `json:"kind"`
		EmbedURL string `json:"embed_url"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &p)
	if p.Kind != "pdf" || p.EmbedURL != "https://cdn.example.com/x.pdf" {
		t.Fatalf("unexpected preview %+v", p)
	}
	if rr := h.do(t, http.MethodGet, "/v1/attachments/preview", nil, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without url, got %d", rr.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := httpserver.BearerAuth("tok")(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req.Header.Set("Authorization", "Bearer tok")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestJournalEndpoint(t *testing.T) {
	j, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })

	h := newConsoleHarnessWith(t, j)
	id := h.seed(t)
	if rr := h.do(t, http.MethodPost, "/v1/campaigns/"+id+"/send", nil, ""); rr.Code != http.StatusAccepted {
		t.Fatalf("send-all: %d %s", rr.Code, rr.Body.String())
	}

	rr := h.do(t, http.MethodGet, "/v1/journal?campaign_id="+id, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("journal: %d", rr.Code)
	}
	var entries []store.JournalEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Action != store.ActionSendAll || entries[1].Action != store.ActionUpload {
		t.Fatalf("expected send_all then upload, got %+v", entries)
	}

	if rr := h.do(t, http.MethodGet, "/v1/journal?limit=abc", nil, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}
