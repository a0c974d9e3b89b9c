package backend

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL   string
	Token     string
	TokenFile string
	Timeout   time.Duration

	// RPS <= 0 disables dispatch pacing.
	RPS   float64
	Burst int

	Breaker BreakerOptions
}

// New builds a client with its breaker and limiter. TokenFile wins over
// Token when both are set.
func New(opts Options) *Client {
	var tokens TokenSource = StaticToken(opts.Token)
	if opts.TokenFile != "" {
		tokens = FileToken(opts.TokenFile)
	}
	c := &Client{
		BaseURL: strings.TrimRight(opts.BaseURL, "/"),
		HTTP:    &http.Client{Timeout: opts.Timeout},
		Tokens:  tokens,
		Breaker: NewBreaker("backend", opts.Breaker),
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}
