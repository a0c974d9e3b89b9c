package mockbackend

import (
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// Row is one recipient parsed from an uploaded roster.
type Row struct {
	Name        string
	Email       string
	Subject     string
	Body        string
	CC          string
	BCC         string
	Attachments []string
}

var errUnsupportedRoster = errors.New("only .csv, .xls and .xlsx rosters are allowed")

// ParseRoster reads recipients from a CSV roster. Column names are matched
// case-insensitively; rows without an email are skipped. Subject and body
// come from the first row and apply to every recipient. Spreadsheet
// rosters are accepted but carry no rows.
func ParseRoster(filename string, r io.Reader) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
	case ".xls", ".xlsx":
		return []Row{}, nil
	default:
		return nil, errUnsupportedRoster
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rows := []Row{}
	var subject, body string
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			subject, body = get(rec, "subject"), get(rec, "body")
			first = false
		}
		email := get(rec, "email")
		if email == "" {
			continue
		}
		rows = append(rows, Row{
			Name:        get(rec, "name"),
			Email:       email,
			Subject:     subject,
			Body:        body,
			CC:          get(rec, "cc"),
			BCC:         get(rec, "bcc"),
			Attachments: splitAttachments(get(rec, "attachments")),
		})
	}
	return rows, nil
}

func splitAttachments(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
