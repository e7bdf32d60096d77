package flowgatesdk

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

// Client is a minimal Flowgate HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Item represents the API item model (partial).
type Item struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Summary    string            `json:"summary"`
	Status     string            `json:"status"`
	Owner      string            `json:"owner"`
	Reporter   string            `json:"reporter"`
	Resolution *string           `json:"resolution,omitempty"`
	ParentID   *string           `json:"parent_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Action is one workflow action with its decision for the caller.
type Action struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

// SignerSlot is one position of a sign-off plan.
type SignerSlot struct {
	Slot   int    `json:"slot"`
	Class  string `json:"class"`
	Signer string `json:"signer"`
	Action string `json:"action"`
}

// Outcome is the evaluation result of an action.
type Outcome struct {
	Action           string       `json:"action"`
	Allowed          bool         `json:"allowed"`
	Reason           string       `json:"reason,omitempty"`
	NewStatus        string       `json:"new_status,omitempty"`
	NewOwner         string       `json:"new_owner,omitempty"`
	Operations       []string     `json:"operations,omitempty"`
	Candidates       []string     `json:"candidates,omitempty"`
	Resolution       []string     `json:"resolution,omitempty"`
	ClearsResolution bool         `json:"clears_resolution,omitempty"`
	Signer           string       `json:"signer,omitempty"`
	Signers          []SignerSlot `json:"signers,omitempty"`
}

// ApplyResult pairs the committed item with the outcome that produced it.
type ApplyResult struct {
	Item    Item    `json:"item"`
	Outcome Outcome `json:"outcome"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateItem creates an item.
func (c *Client) CreateItem(ctx context.Context, itemType, summary string, fields map[string]string) (Item, error) {
	body := map[string]any{
		"type":    itemType,
		"summary": summary,
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, c.projectPath("items"), body, &resp)
	return resp, err
}

// GetItem fetches an item by id.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp Item
	endpoint := c.projectPath(fmt.Sprintf("items/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Actions lists the workflow actions available on an item.
func (c *Client) Actions(ctx context.Context, itemID string) ([]Action, error) {
	var resp []Action
	endpoint := c.projectPath(fmt.Sprintf("items/%s/actions", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EvaluateAction runs an action without committing.
func (c *Client) EvaluateAction(ctx context.Context, itemID, action string) (Outcome, error) {
	var resp Outcome
	endpoint := c.projectPath(fmt.Sprintf("items/%s/actions/%s", url.PathEscape(itemID), url.PathEscape(action)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApplyAction applies an action. Owner and resolution are optional.
func (c *Client) ApplyAction(ctx context.Context, itemID, action, owner, resolution, comment string) (ApplyResult, error) {
	body := map[string]any{}
	if owner != "" {
		body["owner"] = owner
	}
	if resolution != "" {
		body["resolution"] = resolution
	}
	if comment != "" {
		body["comment"] = comment
	}
	var resp ApplyResult
	endpoint := c.projectPath(fmt.Sprintf("items/%s/actions/%s", url.PathEscape(itemID), url.PathEscape(action)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SignerPlan fetches the sign-off slot plan for an action.
func (c *Client) SignerPlan(ctx context.Context, itemID, action, role string) ([]SignerSlot, error) {
	var resp []SignerSlot
	endpoint := c.projectPath(fmt.Sprintf("items/%s/actions/%s/signers", url.PathEscape(itemID), url.PathEscape(action)))
	if role != "" {
		endpoint = fmt.Sprintf("%s?role=%s", endpoint, url.QueryEscape(role))
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Authors lists the credited authors of an item.
func (c *Client) Authors(ctx context.Context, itemID string) ([]string, error) {
	var resp []string
	endpoint := c.projectPath(fmt.Sprintf("items/%s/authors", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
