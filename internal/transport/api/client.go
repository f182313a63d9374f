// Package api is the HTTP client for the issuance backend. It exposes the
// two calls the wallet core consumes and maps every failure onto the closed
// error taxonomy in errors.go.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"greenwallet/pkg/requestcontext"
)

// TokenSource supplies the bearer token for backend calls. Implementations
// typically read from secure storage and re-authenticate when needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the issuance backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) {
		cl.tokens = ts
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	cl := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// PrepareIssue requests an issuance nonce and one-time session token.
func (c *Client) PrepareIssue(ctx context.Context) (*PrepareIssueEnvelope, error) {
	var envelope PrepareIssueEnvelope
	if err := c.post(ctx, "/holder/prepare_issue", nil, &envelope); err != nil {
		return nil, err
	}
	if envelope.PrepareIssueMessage == "" || envelope.SessionToken == "" {
		return nil, newError(ErrorInvalidResponse, fmt.Errorf("prepare issue envelope incomplete"))
	}
	return &envelope, nil
}

// FetchGreenCards submits the signed events plus commitment and returns the
// issued green-card descriptors.
func (c *Client) FetchGreenCards(ctx context.Context, req GreenCardsRequest) (*GreenCardsResponse, error) {
	var response GreenCardsResponse
	if err := c.post(ctx, "/holder/credentials", req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return newError(ErrorInvalidResponse, err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return newError(ErrorInvalidResponse, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return newError(ErrorAuthenticationCancelled, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		classified := classifyTransportError(err)
		c.logger.Warn("backend call failed",
			"path", path,
			"kind", string(classified.Kind),
			"request_id", requestcontext.RequestID(ctx),
		)
		return classified
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return &Error{Kind: ErrorServerBusy, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &Error{Kind: ErrorServerError, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return &Error{Kind: ErrorInvalidResponse, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(ErrorInvalidResponse, err)
	}
	return nil
}

// StaticTokenSource returns a fixed token, re-issued by refresh when the
// token's exp claim is within the skew window. The claims are inspected
// without signature verification; the backend remains the verifier.
// Safe for concurrent use.
type StaticTokenSource struct {
	mu      sync.Mutex
	token   string
	refresh func(ctx context.Context) (string, error)
	skew    time.Duration
}

func NewStaticTokenSource(token string, refresh func(ctx context.Context) (string, error)) *StaticTokenSource {
	return &StaticTokenSource{token: token, refresh: refresh, skew: 30 * time.Second}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && !s.expiringSoon(ctx) {
		return s.token, nil
	}
	if s.refresh == nil {
		return s.token, nil
	}
	token, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

func (s *StaticTokenSource) expiringSoon(ctx context.Context) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(s.token, claims); err != nil {
		// Opaque tokens pass through; the backend decides.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.Before(requestcontext.Now(ctx).Add(s.skew))
}
