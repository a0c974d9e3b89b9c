package mockbackend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"mailbridge/internal/httpserver"
	"mailbridge/internal/util"
)

var (
	errDeliveryFailed = errors.New("smtp: mock delivery failure")
	errQuotaReached   = errors.New("smtp: daily quota reached")
	errRecordGone     = errors.New("record deleted before delivery")
)

// Server serves the campaign REST surface from memory. Sends are accepted
// with 202 and delivered in the background after Delay per record.
type Server struct {
	Store        *Store
	Token        string
	Delay        time.Duration
	FailureRatio float64
	DailyLimit   int
	// From is the sender on rendered messages.
	From string

	outbox    outbox
	mu        sync.Mutex
	now       func() time.Time
	day       string
	sentToday int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(store *Store, token string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{Store: store, Token: token, DailyLimit: 500, From: defaultSender, now: time.Now, ctx: ctx, cancel: cancel}
}

func (s *Server) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(httpserver.BearerAuth(s.Token))
	api.HandleFunc("/upload/", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/files/", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/files/{id:[0-9]+}/", s.handleDetail).Methods(http.MethodGet)
	api.HandleFunc("/files/{id:[0-9]+}/delete/", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/files/{id:[0-9]+}/send/", s.handleSendAll).Methods(http.MethodPost)
	api.HandleFunc("/email/{id:[0-9]+}/send/", s.handleSendOne).Methods(http.MethodPost)
	api.HandleFunc("/email/{id:[0-9]+}/message/", s.handleMessage).Methods(http.MethodGet)
}

// Close stops background deliveries and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every background delivery has finished.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"title": {"This field is required."}})
		return
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"file": {"No file was submitted."}})
		return
	}
	defer f.Close()

	rows, err := ParseRoster(fh.Filename, f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	created := s.Store.Create(title, rows, util.NowUTC())
	slog.Info("campaign created", "campaign_id", created.ID, "records", created.TotalCount)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.List())
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	d, ok := s.Store.Get(pathID(r))
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.Store.Delete(pathID(r)) {
		notFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendAll(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.Store.Unsent(pathID(r))
	if !ok {
		notFound(w)
		return
	}
	s.deliver(ids)
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Email sending initiated."})
}

func (s *Server) handleSendOne(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.Store.Record(pathID(r))
	if !ok {
		notFound(w)
		return
	}
	if rec.IsSent {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email already sent."})
		return
	}
	s.deliver([]int64{rec.ID})
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Email sending queued for " + rec.Email + "."})
}

// deliver sends ids one after another in the background.
func (s *Server) deliver(ids []int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, id := range ids {
			if s.Delay > 0 {
				t := time.NewTimer(s.Delay)
				select {
				case <-s.ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			err := s.attempt()
			if err == nil {
				err = s.render(id)
			}
			s.Store.MarkAttempt(id, util.NowUTC(), err)
			if err != nil {
				slog.Warn("mock delivery failed", "record_id", id, "err", err)
			}
		}
	}()
}

func (s *Server) attempt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The quota is per calendar day in UTC.
	if today := s.now().UTC().Format(time.DateOnly); today != s.day {
		s.day = today
		s.sentToday = 0
	}
	if s.DailyLimit > 0 && s.sentToday >= s.DailyLimit {
		return errQuotaReached
	}
	if s.FailureRatio > 0 && rand.Float64() < s.FailureRatio {
		return errDeliveryFailed
	}
	s.sentToday++
	return nil
}

func (s *Server) render(id int64) error {
	rec, ok := s.Store.Record(id)
	if !ok {
		return errRecordGone
	}
	msg, err := compose(s.From, rec)
	if err != nil {
		return err
	}
	s.outbox.put(id, msg)
	return nil
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
