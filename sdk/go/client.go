package ouvidoriasdk

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
)

// Client is a minimal Ouvidoria HTTP API client.
type Client struct {
	BaseURL    string
	Operator   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Manifestation represents the API case model.
type Manifestation struct {
	ID            int64   `json:"id"`
	Protocol      string  `json:"protocol"`
	Kind          string  `json:"kind"`
	Category      string  `json:"category"`
	Subject       string  `json:"subject"`
	Description   string  `json:"description"`
	CitizenName   string  `json:"citizen_name"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Channel       string  `json:"channel"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	AssignedTo    *string `json:"assigned_to,omitempty"`
	Response      *string `json:"response,omitempty"`
	RespondedAt   *string `json:"responded_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	RemainingDays int     `json:"remaining_days"`
}

// HistoryEntry represents one audit trail record.
type HistoryEntry struct {
	ID              int64  `json:"id"`
	ManifestationID int64  `json:"manifestation_id"`
	Event           string `json:"event"`
	Actor           string `json:"actor"`
	Timestamp       string `json:"timestamp"`
}

// Stats represents the aggregate counters.
type Stats struct {
	Total      int            `json:"total"`
	Overdue    int            `json:"overdue"`
	ByStatus   map[string]int `json:"by_status"`
	ByKind     map[string]int `json:"by_kind"`
	ByCategory map[string]int `json:"by_category"`
	ByChannel  map[string]int `json:"by_channel"`
}

// Intake carries the fields a citizen files a case with.
type Intake struct {
	Kind        string `json:"kind"`
	Category    string `json:"category"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	CitizenName string `json:"citizen_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Channel     string `json:"channel"`
	Priority    string `json:"priority,omitempty"`
	WindowDays  int    `json:"window_days,omitempty"`
}

// Update carries workflow mutations. Nil fields are left untouched;
// ClearAssignment sends an explicit null for assigned_to.
type Update struct {
	Status          *string
	Response        *string
	AssignedTo      *string
	ClearAssignment bool
	Priority        *string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedManifestations wraps list responses with cursors.
type PaginatedManifestations struct {
	Items      []Manifestation `json:"items"`
	NextCursor string          `json:"next_cursor"`
}

// ListFilters narrows List results.
type ListFilters struct {
	Status string
	Search string
	Limit  int
	Cursor string
}

// Create files a manifestation and returns it with protocol assigned.
func (c *Client) Create(ctx context.Context, in Intake) (Manifestation, error) {
	var resp Manifestation
	err := c.do(ctx, http.MethodPost, "v0/manifestations", in, &resp)
	return resp, err
}

// Get fetches a manifestation by id.
func (c *Client) Get(ctx context.Context, id int64) (Manifestation, error) {
	var resp Manifestation
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/manifestations/%d", id), nil, &resp)
	return resp, err
}

// GetByProtocol looks a manifestation up by its protocol number.
func (c *Client) GetByProtocol(ctx context.Context, protocol string) (Manifestation, error) {
	var resp Manifestation
	endpoint := "v0/protocols/" + url.PathEscape(protocol)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Update applies workflow changes to a manifestation.
func (c *Client) Update(ctx context.Context, id int64, u Update) (Manifestation, error) {
	body := map[string]any{}
	if u.Status != nil {
		body["status"] = *u.Status
	}
	if u.Response != nil {
		body["response"] = *u.Response
	}
	if u.ClearAssignment {
		body["assigned_to"] = nil
	} else if u.AssignedTo != nil {
		body["assigned_to"] = *u.AssignedTo
	}
	if u.Priority != nil {
		body["priority"] = *u.Priority
	}
	var resp Manifestation
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/manifestations/%d", id), body, &resp)
	return resp, err
}

// Delete removes a manifestation and its history.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("v0/manifestations/%d", id), nil, nil)
}

// List returns the first page of manifestations matching the filters.
func (c *Client) List(ctx context.Context, f ListFilters) (PaginatedManifestations, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	endpoint := "v0/manifestations"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedManifestations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns the audit trail of a manifestation, oldest first.
func (c *Client) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/manifestations/%d/history", id), nil, &resp)
	return resp, err
}

// Stats returns aggregate counts across all manifestations.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Operator != "" {
		req.Header.Set("X-Operator", c.Operator)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
