package mockbackend

import (
	"net/http"
	"strings"
	"sync"

	"github.com/jordan-wright/email"
)

const defaultSender = "Campaigns <campaigns@mailbridge.local>"

// outbox keeps the rendered message of every delivered record so a
// developer can inspect what would have gone out.
type outbox struct {
	mu       sync.Mutex
	messages map[int64][]byte
}

func (o *outbox) put(id int64, msg []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.messages == nil {
		o.messages = make(map[int64][]byte)
	}
	o.messages[id] = msg
}

func (o *outbox) get(id int64) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg, ok := o.messages[id]
	return msg, ok
}

// compose renders rec as an RFC 5322 message. Attachment references stay
// links; the mock never downloads them.
func compose(from string, rec record) ([]byte, error) {
	e := email.NewEmail()
	e.From = from
	e.To = []string{rec.Email}
	e.Cc = splitAddresses(rec.CC)
	e.Bcc = splitAddresses(rec.BCC)
	if rec.Subject != nil {
		e.Subject = *rec.Subject
	}
	body := rec.Body
	if len(rec.Attachments) > 0 {
		body += "\n\nAttachments:\n" + strings.Join(rec.Attachments, "\n")
	}
	e.Text = []byte(body)
	for _, a := range rec.Attachments {
		e.Headers.Add("X-Attachment-Url", a)
	}
	return e.Bytes()
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.outbox.get(pathID(r))
	if !ok {
		notFound(w)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	_, _ = w.Write(msg)
}
