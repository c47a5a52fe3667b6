// Package api talks to the CSP core backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/validation"
)

const maxResponseSize = 16 << 20

// TokenSource supplies the session token sent with every request.
type TokenSource interface {
	Token() string
}

type noToken struct{}

func (noToken) Token() string { return "" }

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	tokens    TokenSource
}

// NewClient validates the configured base URL and builds a client. A nil
// TokenSource sends anonymous requests.
func NewClient(cfg config.APIConfig, tokens TokenSource) (*Client, error) {
	base, err := validation.NewPermissiveURLValidator().ValidateBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if tokens == nil {
		tokens = noToken{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		tokens:    tokens,
	}, nil
}

// SetTokenSource replaces the token source. Used once the auth manager
// exists, which itself needs a client.
func (c *Client) SetTokenSource(tokens TokenSource) {
	if tokens == nil {
		tokens = noToken{}
	}
	c.tokens = tokens
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResolveURL leaves absolute URLs alone and prefixes everything else with
// the base URL.
func (c *Client) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasPrefix(path, c.baseURL) {
		return path
	}
	return c.baseURL + path
}

// Get issues a GET with the non-nil params as query string and decodes the
// envelope data into out.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	target := c.ResolveURL(path)
	if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		target += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, out)
}

// Post sends body as JSON and decodes the envelope data into out.
func (c *Client) Post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, c.ResolveURL(path), body, out)
}

// DataItems fetches a data dictionary such as NewsTypeCode.
func (c *Client) DataItems(ctx context.Context, code string) ([]DataItem, error) {
	var items []DataItem
	if err := c.Get(ctx, "/data/dataitem/details/"+url.PathEscape(code), nil, &items); err != nil {
		return nil, fmt.Errorf("fetching data dictionary %s: %w", code, err)
	}
	return items, nil
}

// NewsList fetches the whole news collection. The params are sent both
// spread into the body and serialized under paramsJson.
func (c *Client) NewsList(ctx context.Context, params map[string]interface{}) ([]NewsRecord, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding news list params: %w", err)
	}

	body := map[string]interface{}{
		"paramsJson": string(encoded),
		"sidx":       "",
		"sord":       "desc",
	}
	for k, v := range params {
		body[k] = v
	}

	var records []NewsRecord
	if err := c.Post(ctx, "/data/dbsource/newsList/list", body, &records); err != nil {
		return nil, fmt.Errorf("fetching news list: %w", err)
	}
	return records, nil
}

// Login posts the credentials and returns the issued token and user record.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	var result LoginResult
	if err := c.Post(ctx, "/login", req, &result); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, target string, body interface{}, out interface{}) error {
	requestID := uuid.NewString()
	logger := debuglog.WithFields(map[string]interface{}{
		"method":     method,
		"url":        target,
		"request_id": requestID,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	token := c.tokens.Token()
	if token != "" {
		req.Header.Set("token", token)
	}

	logger.Debugf("sending request (token set: %t)", token != "")
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warnf("request failed: %v", err)
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	logger.Debugf("response status %d after %s", resp.StatusCode, time.Since(started))

	if resp.StatusCode == http.StatusGone || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, URL: target, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding response envelope: %w", err)
	}

	if int(env.Code) != http.StatusOK {
		apiErr := &APIError{Method: method, URL: target, Status: resp.StatusCode, Code: int(env.Code), Info: env.Info}
		logger.Warnf("backend rejected request: %v", apiErr)
		return apiErr
	}

	if out == nil || len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}
