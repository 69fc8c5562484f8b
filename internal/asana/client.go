package asana

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Asana REST API root.
	DefaultBaseURL = "https://app.asana.com/api/1.0"
	// DefaultRateLimit is the default request rate (requests per second).
	DefaultRateLimit = 2.5
	// pageSize is the page size used for paginated collections.
	pageSize = 100
	// maxAttempts bounds retries of rate-limited or failed requests.
	maxAttempts = 4
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// AccessToken is a personal access token used as a bearer token.
	AccessToken string
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	// SkipVerify disables TLS certificate verification.
	SkipVerify bool
	// RateLimit is requests per second (0 = DefaultRateLimit).
	RateLimit float64
	// Timeout applies to each HTTP request (0 = 30s).
	Timeout time.Duration
	// Logger for request activity (nil = slog.Default()).
	Logger *slog.Logger
	// HTTPClient replaces the constructed client (tests).
	HTTPClient *http.Client
}

// TaskQuery selects which tasks of a project are fetched.
type TaskQuery struct {
	// Fields is the opt_fields projection. Empty means the API default.
	Fields []string
	// ModifiedSince restricts the result to tasks modified after this time.
	ModifiedSince time.Time
}

// Client is a rate-limited Asana API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("asana access token is empty")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.SkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 - opt-in flag
		}
		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.AccessToken,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
		logger:  logger.With("component", "asana"),
	}, nil
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Project fetches a single project. A missing project yields a
// *NotFoundError.
func (c *Client) Project(ctx context.Context, id int64) (Entity, error) {
	return c.getObject(ctx, "project", id, "/projects/"+strconv.FormatInt(id, 10),
		url.Values{"opt_fields": {"name,gid"}})
}

// CustomField fetches a custom field definition including its enum options.
func (c *Client) CustomField(ctx context.Context, id int64) (Entity, error) {
	return c.getObject(ctx, "custom field", id, "/custom_fields/"+strconv.FormatInt(id, 10),
		url.Values{"opt_fields": {"gid,name,type,enum_options.gid,enum_options.name,enum_options.enabled,enum_options.color"}})
}

// Tasks fetches every task of a project, following pagination.
func (c *Client) Tasks(ctx context.Context, projectID int64, q TaskQuery) ([]Entity, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	if len(q.Fields) > 0 {
		params.Set("opt_fields", strings.Join(q.Fields, ","))
	}
	if !q.ModifiedSince.IsZero() {
		params.Set("modified_since", q.ModifiedSince.UTC().Format(time.RFC3339))
	}

	path := "/projects/" + strconv.FormatInt(projectID, 10) + "/tasks"
	var tasks []Entity
	for {
		env, err := c.get(ctx, path, params)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return nil, &NotFoundError{Resource: "project", ID: projectID}
			}
			return nil, fmt.Errorf("failed to list tasks of project %d: %w", projectID, err)
		}

		page, err := decodeList(env.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tasks of project %d: %w", projectID, err)
		}
		tasks = append(tasks, page...)

		if env.NextPage == nil || env.NextPage.Offset == "" {
			break
		}
		params.Set("offset", env.NextPage.Offset)
	}

	c.logger.Debug("fetched tasks", "project_id", projectID, "count", len(tasks))
	return tasks, nil
}

func (c *Client) getObject(ctx context.Context, resource string, id int64, path string, params url.Values) (Entity, error) {
	env, err := c.get(ctx, path, params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{Resource: resource, ID: id}
		}
		return nil, fmt.Errorf("failed to fetch %s %d: %w", resource, id, err)
	}
	e, err := Decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %d: %w", resource, id, err)
	}
	return e, nil
}

// get performs a GET request, retrying rate-limited and server errors.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*envelope, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		env, wait, err := c.do(ctx, endpoint)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == maxAttempts {
			break
		}
		if wait < 0 {
			wait = time.Duration(attempt) * time.Second
		}
		c.logger.Warn("retrying request", "path", path, "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string) (*envelope, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &env) == nil && len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		wait := time.Duration(-1)
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, wait, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return &env, 0, nil
}

func decodeList(data json.RawMessage) ([]Entity, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(raw))
	for _, item := range raw {
		e, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
