package intake

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

type Reason string

const (
	ReasonUnsupportedExtension Reason = "unsupported_extension"
	ReasonMissingTitle         Reason = "missing_title"
	ReasonMissingFile          Reason = "missing_file"
)

// ValidationError is resolved where the input happens and never reaches the
// backend.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + string(e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// IsReason reports whether err is a ValidationError with the given reason.
func IsReason(err error, r Reason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == r
}

var AllowedExtensions = []string{".csv", ".xls", ".xlsx"}

// Origin records how the file reached the stager. It has no effect on
// validation.
type Origin string

const (
	OriginSelect Origin = "select"
	OriginDrop   Origin = "drop"
)

// File is a candidate roster. Open is called once per submission.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// ValidateFile is the single extension gate for every way a file arrives.
func ValidateFile(f File) error {
	name := strings.TrimSpace(f.Name)
	if name == "" || f.Open == nil {
		return &ValidationError{Reason: ReasonMissingFile}
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return &ValidationError{Reason: ReasonUnsupportedExtension, Detail: name}
}

func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Reason: ReasonMissingTitle}
	}
	return nil
}
