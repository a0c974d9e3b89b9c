package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"mailbridge/internal/domain"
	"mailbridge/internal/observability"
)

const (
	OpListCampaigns  = "list_campaigns"
	OpUploadCampaign = "upload_campaign"
	OpDeleteCampaign = "delete_campaign"
	OpGetCampaign    = "get_campaign"
	OpSendRecord     = "send_record"
	OpSendCampaign   = "send_campaign"
)

// Client talks to the mailing backend REST surface. It never retries; the
// breaker only makes repeated failures fail fast.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource

	// Limiter paces dispatch calls only. Reads are never delayed.
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
}

// Ack is the backend's reply to a dispatch request.
type Ack struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

type BreakerOptions struct {
	MaxRequests         uint32
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// NewBreaker builds the breaker used for backend calls. Client errors (4xx)
// count as successes so one bad record id cannot open the circuit.
func NewBreaker(name string, opts BreakerOptions) *gobreaker.CircuitBreaker {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: opts.MaxRequests,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= opts.ConsecutiveFailures },
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var te *TransportError
			return errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500
		},
	})
}

func (c *Client) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	var out []domain.Campaign
	if err := c.do(ctx, OpListCampaigns, http.MethodGet, "/api/files/", nil, "", false, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Campaign{}
	}
	return out, nil
}

func (c *Client) UploadCampaign(ctx context.Context, title, filename string, r io.Reader) (domain.Campaign, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", title); err != nil {
		return domain.Campaign{}, err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return domain.Campaign{}, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return domain.Campaign{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.Campaign{}, err
	}

	var out domain.Campaign
	if err := c.do(ctx, OpUploadCampaign, http.MethodPost, "/api/upload/", buf.Bytes(), mw.FormDataContentType(), false, &out); err != nil {
		return domain.Campaign{}, err
	}
	return out, nil
}

func (c *Client) DeleteCampaign(ctx context.Context, id domain.ID) error {
	return c.do(ctx, OpDeleteCampaign, http.MethodDelete, "/api/files/"+escape(id)+"/delete/", nil, "", false, nil)
}

func (c *Client) GetCampaign(ctx context.Context, id domain.ID) (domain.CampaignDetail, error) {
	var out domain.CampaignDetail
	if err := c.do(ctx, OpGetCampaign, http.MethodGet, "/api/files/"+escape(id)+"/", nil, "", false, &out); err != nil {
		return domain.CampaignDetail{}, err
	}
	return out, nil
}

func (c *Client) SendRecord(ctx context.Context, recordID domain.ID) (Ack, error) {
	var ack Ack
	err := c.do(ctx, OpSendRecord, http.MethodPost, "/api/email/"+escape(recordID)+"/send/", nil, "", true, &ack)
	return ack, err
}

// SendCampaign asks the backend to send every unsent record. Acceptance says
// nothing about completion; progress is only visible through polling.
func (c *Client) SendCampaign(ctx context.Context, campaignID domain.ID) (Ack, error) {
	var ack Ack
	err := c.do(ctx, OpSendCampaign, http.MethodPost, "/api/files/"+escape(campaignID)+"/send/", nil, "", true, &ack)
	return ack, err
}

func escape(id domain.ID) string { return url.PathEscape(string(id)) }

type callResult struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, contentType string, dispatch bool, out any) error {
	if dispatch && c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			observability.BackendRequests.WithLabelValues(op, "rate_limited_local").Inc()
			return &TransportError{Op: op, Err: err}
		}
	}

	token, err := c.token(ctx)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	start := time.Now()
	resAny, err := c.executeWithBreaker(func() (any, error) {
		return c.roundTrip(ctx, op, method, path, body, contentType, token)
	})
	observability.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.BackendRequests.WithLabelValues(op, "cb_open").Inc()
		return &TransportError{Op: op, Err: err}
	}
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			observability.BackendRequests.WithLabelValues(op, strconv.Itoa(te.StatusCode)).Inc()
			return te
		}
		observability.BackendRequests.WithLabelValues(op, "0").Inc()
		return &TransportError{Op: op, Err: err}
	}

	res := resAny.(callResult)
	observability.BackendRequests.WithLabelValues(op, strconv.Itoa(res.status)).Inc()

	if ack, ok := out.(*Ack); ok {
		ack.StatusCode = res.status
	}
	if out == nil || len(bytes.TrimSpace(res.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return &TransportError{Op: op, StatusCode: res.status, Err: err}
	}
	return nil
}

func (c *Client) executeWithBreaker(call func() (any, error)) (any, error) {
	if c.Breaker == nil {
		return call()
	}
	return c.Breaker.Execute(call)
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body []byte, contentType, token string) (any, error) {
	endpoint := strings.TrimRight(c.BaseURL, "/") + path

	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: errorBody(b), Err: errNon2xx}
	}
	return callResult{status: resp.StatusCode, body: b}, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.Tokens == nil {
		return "", ErrNoToken
	}
	return c.Tokens.Token(ctx)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// errorBody pulls a human message out of the backend's error payloads
// ({"detail": ...} or {"error": ...}), falling back to the trimmed body.
func errorBody(b []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(b, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
