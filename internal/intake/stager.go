package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"mailbridge/internal/domain"
	"mailbridge/internal/observability"
)

type Uploader interface {
	UploadCampaign(ctx context.Context, title, filename string, r io.Reader) (domain.Campaign, error)
}

type ListRefresher interface {
	RefreshList(ctx context.Context) error
}

var (
	ErrNotStaged        = errors.New("title and file must both be staged")
	ErrSubmitInProgress = errors.New("upload already in progress")
)

// Stager holds at most one validated file plus a title as a single
// submission unit.
type Stager struct {
	Uploader Uploader
	Lists    ListRefresher

	mu         sync.Mutex
	title      string
	file       *File
	origin     Origin
	submitting bool
}

func (s *Stager) SetTitle(title string) {
	s.mu.Lock()
	s.title = strings.TrimSpace(title)
	s.mu.Unlock()
}

// Select stages a file chosen through a picker.
func (s *Stager) Select(f File) error { return s.stage(f, OriginSelect) }

// Drop stages a file dropped onto the upload area.
func (s *Stager) Drop(f File) error { return s.stage(f, OriginDrop) }

func (s *Stager) stage(f File, origin Origin) error {
	if err := ValidateFile(f); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			observability.UploadRejections.WithLabelValues(string(ve.Reason)).Inc()
		}
		slog.Debug("upload candidate rejected", "file", f.Name, "origin", origin, "err", err)
		return err
	}
	s.mu.Lock()
	s.file = &f
	s.origin = origin
	s.mu.Unlock()
	return nil
}

func (s *Stager) Clear() {
	s.mu.Lock()
	s.title = ""
	s.file = nil
	s.origin = ""
	s.mu.Unlock()
}

// Staged returns the staged file name and title.
func (s *Stager) Staged() (title, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		filename = s.file.Name
	}
	return s.title, filename
}

func (s *Stager) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title != "" && s.file != nil && !s.submitting
}

// Submit hands the staged unit to the backend as one multipart transfer and
// refreshes the whole campaign list on success. A failed list refresh is
// logged; the upload itself already succeeded.
func (s *Stager) Submit(ctx context.Context) (domain.Campaign, error) {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return domain.Campaign{}, ErrSubmitInProgress
	}
	if err := ValidateTitle(s.title); err != nil {
		s.mu.Unlock()
		return domain.Campaign{}, err
	}
	if s.file == nil {
		s.mu.Unlock()
		return domain.Campaign{}, &ValidationError{Reason: ReasonMissingFile}
	}
	title, file := s.title, *s.file
	s.submitting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}()

	rc, err := file.Open()
	if err != nil {
		return domain.Campaign{}, err
	}
	defer rc.Close()

	created, err := s.Uploader.UploadCampaign(ctx, title, file.Name, rc)
	if err != nil {
		return domain.Campaign{}, err
	}

	s.mu.Lock()
	if s.file != nil && s.file.Name == file.Name && s.title == title {
		s.title = ""
		s.file = nil
		s.origin = ""
	}
	s.mu.Unlock()

	if s.Lists != nil {
		if err := s.Lists.RefreshList(ctx); err != nil {
			slog.Warn("campaign list refresh after upload failed", "err", err, "campaign_id", created.ID)
		}
	}
	return created, nil
}

// SubmitOnce validates, stages and submits in one step. Used by callers that
// have no interactive staging area.
func (s *Stager) SubmitOnce(ctx context.Context, title string, f File) (domain.Campaign, error) {
	if err := ValidateTitle(title); err != nil {
		return domain.Campaign{}, err
	}
	if err := s.Select(f); err != nil {
		return domain.Campaign{}, err
	}
	s.SetTitle(title)
	return s.Submit(ctx)
}
