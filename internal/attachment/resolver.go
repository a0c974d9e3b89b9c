// Package attachment classifies attachment URLs into preview kinds.
//
// Classification is pure and total: every input string maps to exactly one
// Kind, and nothing here touches the network.
package attachment

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type Kind string

const (
	KindImage           Kind = "image"
	KindPdfDirect       Kind = "pdf"
	KindDriveDocument   Kind = "drive_document"
	KindExternalUnknown Kind = "external"
)

// Reference is derived on demand from a raw URL and never persisted.
type Reference struct {
	RawURL      string `json:"raw_url"`
	Kind        Kind   `json:"kind"`
	DriveFileID string `json:"drive_file_id,omitempty"`
}

const (
	drivePreviewURL = "https://drive.google.com/file/d/%s/preview"
	docsViewerURL   = "https://docs.google.com/viewer"
)

var (
	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg"}
	pdfExtensions   = []string{".pdf"}
	driveMarkers    = []string{"drive.google.com", "docs.google.com"}

	driveFilePath = regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`)
)

// rule matches a parsed URL. Rules run in order and the first match wins, so
// new kinds slot in without touching Classify.
type rule struct {
	kind  Kind
	match func(u *url.URL, lowerPath string) bool
}

var rules = []rule{
	{kind: KindImage, match: hasExtension(imageExtensions)},
	{kind: KindPdfDirect, match: hasExtension(pdfExtensions)},
	{kind: KindDriveDocument, match: hostContains(driveMarkers)},
}

func hasExtension(exts []string) func(*url.URL, string) bool {
	return func(_ *url.URL, lowerPath string) bool {
		for _, ext := range exts {
			if strings.HasSuffix(lowerPath, ext) {
				return true
			}
		}
		return false
	}
}

func hostContains(markers []string) func(*url.URL, string) bool {
	return func(u *url.URL, _ string) bool {
		host := strings.ToLower(u.Host)
		for _, m := range markers {
			if strings.Contains(host, m) {
				return true
			}
		}
		return false
	}
}

// Classify maps raw to a Reference. Strings that do not parse as absolute
// URLs classify as external.
func Classify(raw string) Reference {
	ref := Reference{RawURL: raw, Kind: KindExternalUnknown}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ref
	}
	lowerPath := strings.ToLower(u.Path)

	for _, r := range rules {
		if !r.match(u, lowerPath) {
			continue
		}
		ref.Kind = r.kind
		if r.kind == KindDriveDocument {
			ref.DriveFileID = driveFileID(u)
		}
		return ref
	}
	return ref
}

func driveFileID(u *url.URL) string {
	if m := driveFilePath.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return u.Query().Get("id")
}

// PreviewURL returns an embeddable frame source for ref. ok is false when
// the caller must offer an "open externally" link instead.
func PreviewURL(ref Reference) (string, bool) {
	switch ref.Kind {
	case KindDriveDocument:
		if ref.DriveFileID != "" {
			return fmt.Sprintf(drivePreviewURL, url.PathEscape(ref.DriveFileID)), true
		}
		q := url.Values{}
		q.Set("url", ref.RawURL)
		q.Set("embedded", "true")
		return docsViewerURL + "?" + q.Encode(), true
	case KindPdfDirect:
		return ref.RawURL, true
	case KindImage:
		return ref.RawURL, true
	default:
		return "", false
	}
}

// Preview is the rendering hint handed to the console and CLI.
type Preview struct {
	Reference
	EmbedURL     string `json:"embed_url,omitempty"`
	OpenExternal bool   `json:"open_external"`
}

func Resolve(raw string) Preview {
	ref := Classify(raw)
	embed, ok := PreviewURL(ref)
	return Preview{Reference: ref, EmbedURL: embed, OpenExternal: !ok}
}

func ResolveAll(raws []string) []Preview {
	out := make([]Preview, 0, len(raws))
	for _, r := range raws {
		out = append(out, Resolve(r))
	}
	return out
}
