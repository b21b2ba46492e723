package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aeolun/chatsync/pkg/protocol"
)

const maxResponseSize = 8 * 1024 * 1024

// HTTPError is returned for non-2xx REST responses
type HTTPError struct {
	Resource   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("GET %s: status %d: %s", e.Resource, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("GET %s: status %d", e.Resource, e.StatusCode)
}

// APIClient performs bulk fetches against the backend REST API
type APIClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
	metrics *Metrics
}

// APIOption configures an APIClient
type APIOption func(*APIClient)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APIClient) { a.http = c }
}

// WithRequestTimeout bounds every fetch; zero means no extra bound
func WithRequestTimeout(d time.Duration) APIOption {
	return func(a *APIClient) { a.timeout = d }
}

// WithAPILogger sets a logger for fetch errors
func WithAPILogger(logger *log.Logger) APIOption {
	return func(a *APIClient) { a.logger = logger }
}

// WithAPIMetrics records fetch latency on m
func WithAPIMetrics(m *Metrics) APIOption {
	return func(a *APIClient) { a.metrics = m }
}

// NewAPIClient creates a REST client rooted at baseURL (e.g. http://localhost:3001)
func NewAPIClient(baseURL string, opts ...APIOption) *APIClient {
	a := &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *APIClient) logf(format string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// Fetch GETs resource (a path such as /api/users) and decodes the JSON body into out
func (a *APIClient) Fetch(ctx context.Context, resource string, out interface{}) (err error) {
	started := time.Now()
	defer func() {
		a.metrics.ObserveFetch(resourceKind(resource), started, err)
		if err != nil {
			a.logf("Fetch %s failed: %v", resource, err)
		}
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+resource, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", resource, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseSize)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return &HTTPError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", resource, err)
	}
	return nil
}

// FetchUsers returns the user directory keyed by user ID
func (a *APIClient) FetchUsers(ctx context.Context) (protocol.Roster, error) {
	users := protocol.Roster{}
	if err := a.Fetch(ctx, "/api/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FetchChats returns the room list in server order
func (a *APIClient) FetchChats(ctx context.Context) ([]protocol.Room, error) {
	var rooms []protocol.Room
	if err := a.Fetch(ctx, "/api/chats", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// FetchMessages returns the history of chatID, oldest first
func (a *APIClient) FetchMessages(ctx context.Context, chatID string) ([]protocol.Message, error) {
	var messages []protocol.Message
	if err := a.Fetch(ctx, "/api/messages/"+url.PathEscape(chatID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// resourceKind collapses per-chat paths into one metric label
func resourceKind(resource string) string {
	switch {
	case strings.HasPrefix(resource, "/api/messages/"):
		return "messages"
	case resource == "/api/users":
		return "users"
	case resource == "/api/chats":
		return "chats"
	}
	return "other"
}
