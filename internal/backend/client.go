// Package backend calls the external test-content service: it fetches a test for a
// student and submits their answers, forwarding the student's bearer token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

var (
	ErrTestNotFound = errors.New("test not found")
	ErrUnauthorized = errors.New("backend rejected credentials")
	ErrBadContent   = errors.New("malformed test content")
)

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// envelope is the backend's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type submitRequest struct {
	Answers map[int]model.Answer `json:"answers"`
}

// Client implements proctor.Gateway over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

var _ proctor.Gateway = (*Client)(nil)

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "backend_client").Logger(),
	}
}

// FetchTest loads the test content for who.
func (c *Client) FetchTest(ctx context.Context, who proctor.Principal) (*model.TestContent, error) {
	endpoint := fmt.Sprintf("%s/tests/%s", c.baseURL, url.PathEscape(who.TestID))

	var content model.TestContent
	if err := c.do(ctx, http.MethodGet, endpoint, who.Token, nil, &content); err != nil {
		return nil, fmt.Errorf("fetch test %s: %w", who.TestID, err)
	}
	if err := validator.Struct(&content); err != nil {
		return nil, fmt.Errorf("fetch test %s: %w: %w", who.TestID, ErrBadContent, err)
	}
	return &content, nil
}

// SubmitTest posts the answers keyed by original question index.
func (c *Client) SubmitTest(ctx context.Context, who proctor.Principal, answers map[int]model.Answer) (*model.SubmitResult, error) {
	endpoint := fmt.Sprintf("%s/tests/%s/submit", c.baseURL, url.PathEscape(who.TestID))
	if answers == nil {
		answers = map[int]model.Answer{}
	}

	var result model.SubmitResult
	if err := c.do(ctx, http.MethodPost, endpoint, who.Token, submitRequest{Answers: answers}, &result); err != nil {
		return nil, fmt.Errorf("submit test %s: %w", who.TestID, err)
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.log.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Backend call")

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrTestNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrUnauthorized
		}
		se := &StatusError{Status: resp.StatusCode}
		if env.Error != nil {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		return se
	}

	payload := raw
	if len(env.Data) > 0 && string(env.Data) != "null" {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
