package httpserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"mailbridge/internal/attachment"
	"mailbridge/internal/domain"
	"mailbridge/internal/intake"
	"mailbridge/internal/notify"
	"mailbridge/internal/service"
)

const maxUploadMemory = 32 << 20

type API struct {
	Svc           *service.Console
	Notifications *notify.Recorder

	// UploadMemory caps how much of a multipart upload is held in memory
	// before the rest spills to temporary files. Zero means 32 MiB.
	UploadMemory int64
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/campaigns", a.handleList).Methods(http.MethodGet)
	mux.HandleFunc("/v1/campaigns", a.handleUpload).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/{id}", a.handleDetail).Methods(http.MethodGet)
	mux.HandleFunc("/v1/campaigns/{id}", a.handleDelete).Methods(http.MethodDelete)
	mux.HandleFunc("/v1/campaigns/{id}/watch", a.handleWatch).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/{id}/watch", a.handleUnwatch).Methods(http.MethodDelete)
	mux.HandleFunc("/v1/campaigns/{id}/send", a.handleSendAll).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/{id}/records/{recordId}/send", a.handleSendOne).Methods(http.MethodPost)
	mux.HandleFunc("/v1/attachments/preview", a.handlePreview).Methods(http.MethodGet)
	mux.HandleFunc("/v1/notifications", a.handleNotifications).Methods(http.MethodGet)
	mux.HandleFunc("/v1/journal", a.handleJournal).Methods(http.MethodGet)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	out, err := a.Svc.Summaries(r.Context())
	if err != nil {
		writeError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := a.UploadMemory
	if limit <= 0 {
		limit = maxUploadMemory
	}
	if err := r.ParseMultipartForm(limit); err != nil {
		http.Error(w, ErrBadForm, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()
	f := intake.File{}
	if fhs := r.MultipartForm.File["file"]; len(fhs) > 0 {
		fh := fhs[0]
		f.Name = fh.Filename
		f.Open = func() (io.ReadCloser, error) { return fh.Open() }
	}
	created, err := a.Svc.Upload(r.Context(), r.FormValue("title"), f)
	if err != nil {
		writeError(w, "upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Svc.Delete(r.Context(), id); err != nil {
		writeError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := a.Svc.Open(r.Context(), id); err != nil {
		writeError(w, "detail", err)
		return
	}
	a.writeView(w, http.StatusOK, id)
}

func (a *API) handleWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := a.Svc.Watch(r.Context(), id); err != nil {
		writeError(w, "watch", err)
		return
	}
	a.writeView(w, http.StatusOK, id)
}

func (a *API) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Svc.Unwatch(id); err != nil {
		writeError(w, "unwatch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSendAll(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.Svc.SendAll(r.Context(), id); err != nil {
		writeError(w, "send_all", err)
		return
	}
	a.writeView(w, http.StatusAccepted, id)
}

func (a *API) handleSendOne(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	recordID, ok := pathID(w, r, "recordId")
	if !ok {
		return
	}
	if err := a.Svc.SendOne(r.Context(), id, recordID); err != nil {
		writeError(w, "send_one", err)
		return
	}
	a.writeView(w, http.StatusOK, id)
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, ErrMissingURL, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, attachment.Resolve(raw))
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if a.Notifications == nil {
		writeJSON(w, http.StatusOK, []notify.Notification{})
		return
	}
	writeJSON(w, http.StatusOK, a.Notifications.Recent())
}

func (a *API) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, ErrBadLimit, http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := a.Svc.Journal(r.Context(), domain.ID(q.Get("campaign_id")), limit)
	if err != nil {
		writeError(w, "journal", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) writeView(w http.ResponseWriter, status int, id domain.ID) {
	v, ok := a.Svc.View(id)
	if !ok {
		http.Error(w, ErrNotWatched, http.StatusNotFound)
		return
	}
	writeJSON(w, status, v)
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (domain.ID, bool) {
	id := mux.Vars(r)[key]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return "", false
	}
	return domain.ID(id), true
}
