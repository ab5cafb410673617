package lichess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultBaseURL = "https://lichess.org"

var ErrNotFound = errors.New("lichess: not found")

type Client struct {
	baseURL string
	http    *fasthttp.Client

	userAgent      string
	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 16},
		userAgent:      "chess-openings-live/1.0",
		defaultTimeout: 15 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TVChannels returns the games currently featured on Lichess TV.
func (c *Client) TVChannels(ctx context.Context) ([]Channel, error) {
	body, err := c.get(ctx, "/api/tv/channels", "application/json")
	if err != nil {
		return nil, err
	}
	// The endpoint serves a bare channels object without the wrapper key on
	// some versions; normalize before decoding.
	if !bytes.Contains(body, []byte(`"channels"`)) {
		wrapped := make([]byte, 0, len(body)+16)
		wrapped = append(wrapped, []byte(`{"channels":`)...)
		wrapped = append(wrapped, body...)
		wrapped = append(wrapped, '}')
		body = wrapped
	}
	channels, err := decodeChannels(body)
	if err != nil {
		return nil, fmt.Errorf("decode tv channels: %w", err)
	}
	return channels, nil
}

// Broadcasts returns the official ongoing broadcasts (ndjson stream).
func (c *Client) Broadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	if limit <= 0 {
		limit = 10
	}
	body, err := c.get(ctx, fmt.Sprintf("/api/broadcast?nb=%d", limit), "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	var out []Broadcast
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var b Broadcast
		if err := json.Unmarshal(line, &b); err != nil {
			return nil, fmt.Errorf("decode broadcast line: %w", err)
		}
		out = append(out, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan broadcasts: %w", err)
	}
	return out, nil
}

// BroadcastRound returns the game ids of one broadcast round.
func (c *Client) BroadcastRound(ctx context.Context, roundID string) ([]string, error) {
	body, err := c.get(ctx, "/api/broadcast/-/-/"+roundID, "application/json")
	if err != nil {
		return nil, err
	}
	ids, err := decodeRoundGameIDs(body)
	if err != nil {
		return nil, fmt.Errorf("decode round %s: %w", roundID, err)
	}
	return ids, nil
}

// ExportGame fetches one game with its move list in SAN.
func (c *Client) ExportGame(ctx context.Context, gameID string) (*GameExport, error) {
	body, err := c.get(ctx, "/game/export/"+gameID+"?moves=true&opening=true", "application/json")
	if err != nil {
		return nil, err
	}
	var export GameExport
	if err := json.Unmarshal(body, &export); err != nil {
		return nil, fmt.Errorf("decode game export: %w", err)
	}
	if export.ID == "" {
		export.ID = gameID
	}
	return &export, nil
}

func (c *Client) get(ctx context.Context, path, accept string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := c.computeDeadline(ctx)
		err := c.http.DoDeadline(req, resp, deadline)
		if err != nil {
			lastErr = fmt.Errorf("request %s: %w", path, err)
			if attempt == attempts {
				return nil, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status == fasthttp.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("lichess api error: path=%s status=%d body=%s", path, status, truncate(string(resp.Body()), 256))
			if attempt == attempts || !shouldRetryStatus(status) {
				return nil, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}

		body := make([]byte, len(resp.Body()))
		copy(body, resp.Body())
		return body, nil
	}
	return nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 200 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
