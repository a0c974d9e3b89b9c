package backend

import (
	"context"
	"errors"
	"os"
	"strings"
)

// TokenSource yields the current bearer token. Issuing and storing tokens
// belongs to the auth service; the client only reads through this accessor.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// FileToken reads the token from a file on every call so an external login
// flow can rotate it in place.
type FileToken string

func (p FileToken) Token(context.Context) (string, error) {
	b, err := os.ReadFile(string(p))
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

var ErrNoToken = errors.New("no bearer token available")
