package gh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codespace-tools/warden/internal/log"
)

const (
	acceptHeader = "application/vnd.github+json"

	// maxErrorBodyBytes caps how much of an error response is kept for
	// diagnostics.
	maxErrorBodyBytes = 4 * 1024
)

// Client performs authenticated calls against the workspace provider API.
// It classifies failures into *APIError values and never retries; backoff
// is the retrier's job.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the provider at baseURL. The timeout bounds
// each individual request, not an enforcement cycle.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  log.WithComponent("gh"),
	}
}

type listResponse struct {
	Codespaces []workspaceRecord `json:"codespaces"`
}

type workspaceRecord struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Repository  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// List fetches the account's workspaces. Records without an identifier are
// logged and dropped rather than propagated with undefined fields.
func (c *Client) List(ctx context.Context, token string) ([]Workspace, error) {
	const op = "list workspaces"
	body, _, err := c.do(ctx, op, http.MethodGet, "/user/codespaces", token)
	if err != nil {
		return nil, err
	}

	var decoded listResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &APIError{
			Kind:      KindTransient,
			Operation: op,
			Detail:    fmt.Sprintf("malformed response: %v", err),
		}
	}

	workspaces := make([]Workspace, 0, len(decoded.Codespaces))
	for _, rec := range decoded.Codespaces {
		if rec.Name == "" {
			c.logger.Warn("dropping workspace record without identifier", "repo", rec.Repository.FullName)
			continue
		}
		workspaces = append(workspaces, Workspace{
			ID:           rec.Name,
			DisplayName:  rec.DisplayName,
			RepoFullName: rec.Repository.FullName,
			State:        mapState(rec.State),
			CreatedAt:    rec.CreatedAt,
		})
	}
	return workspaces, nil
}

// Stop requests a stop of the named workspace. The provider treats stop as
// idempotent; callers decide how to handle NotFound on vanished workspaces.
func (c *Client) Stop(ctx context.Context, id string, token string) error {
	op := fmt.Sprintf("stop workspace %s", id)
	_, _, err := c.do(ctx, op, http.MethodPost, "/user/codespaces/"+id+"/stop", token)
	return err
}

// CheckAuth validates the credential and reports its OAuth scopes.
func (c *Client) CheckAuth(ctx context.Context, token string) (AuthInfo, error) {
	const op = "check auth"
	body, header, err := c.do(ctx, op, http.MethodGet, "/user", token)
	if err != nil {
		return AuthInfo{}, err
	}

	var decoded struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return AuthInfo{}, &APIError{
			Kind:      KindTransient,
			Operation: op,
			Detail:    fmt.Sprintf("malformed response: %v", err),
		}
	}

	info := AuthInfo{Login: decoded.Login}
	if raw := header.Get("X-OAuth-Scopes"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				info.Scopes = append(info.Scopes, s)
			}
		}
	}
	return info, nil
}

// do issues one request and classifies the outcome. A missing token
// short-circuits to AuthFailure without touching the network.
func (c *Client) do(ctx context.Context, op, method, path, token string) ([]byte, http.Header, error) {
	if token == "" {
		return nil, nil, &APIError{
			Kind:      KindAuthFailure,
			Operation: op,
			Detail:    "no credential configured",
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, &APIError{
			Kind:      KindTransient,
			Operation: op,
			Detail:    fmt.Sprintf("build request: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, &APIError{
			Kind:      KindTransient,
			Operation: op,
			Detail:    fmt.Sprintf("network error: %v", err),
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			return nil, nil, &APIError{
				Kind:      KindTransient,
				Operation: op,
				Detail:    fmt.Sprintf("read response: %v", readErr),
			}
		}
		return body, resp.Header, nil
	}

	return nil, nil, classify(op, resp, body)
}

// classify maps a non-success response onto the error taxonomy. The provider
// signals rate limiting with 429 and with 403 responses carrying either a
// Retry-After header or an exhausted X-RateLimit-Remaining.
func classify(op string, resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Operation:  op,
		Detail:     truncate(string(body), maxErrorBodyBytes),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.Kind = KindAuthFailure
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Kind = KindRateLimited
		apiErr.RetryAfter = parseRetryAfter(resp.Header)
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("Retry-After") != "" || resp.Header.Get("X-RateLimit-Remaining") == "0" {
			apiErr.Kind = KindRateLimited
			apiErr.RetryAfter = parseRetryAfter(resp.Header)
		} else {
			apiErr.Kind = KindForbidden
		}
	case resp.StatusCode == http.StatusNotFound:
		apiErr.Kind = KindNotFound
	default:
		apiErr.Kind = KindTransient
	}
	return apiErr
}

func parseRetryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	// The header also permits an HTTP-date.
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
