package questdecksdk

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

// Client is a minimal Questdeck HTTP API client.
type Client struct {
	BaseURL    string
	OrgID      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

// Goal represents the API goal model.
type Goal struct {
	ID     string `json:"id"`
	OrgID  string `json:"org_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Quest represents the API quest model (partial).
type Quest struct {
	ID      string `json:"id"`
	OrgID   string `json:"org_id"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Version int64  `json:"version"`
}

// Task represents the API task model (partial).
type Task struct {
	ID               string  `json:"id"`
	OrgID            string  `json:"org_id"`
	QuestID          string  `json:"quest_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	Priority         string  `json:"priority"`
	OwnerID          *string `json:"owner_id,omitempty"`
	EstimatedMinutes int     `json:"estimated_minutes"`
	Version          int64   `json:"version"`
}

// RunResult summarizes one orchestration run.
type RunResult struct {
	RunID           string   `json:"run_id"`
	CorrelationID   string   `json:"correlation_id"`
	QuestsUnlocked  []string `json:"quests_unlocked,omitempty"`
	QuestsCompleted []string `json:"quests_completed,omitempty"`
	TasksAssigned   []string `json:"tasks_assigned,omitempty"`
	ReadySoon       []string `json:"ready_soon,omitempty"`
	DeckSize        int      `json:"deck_size"`
	Warnings        []string `json:"warnings,omitempty"`
}

// DeckItem is one scored entry on a daily deck.
type DeckItem struct {
	TaskID           string  `json:"task_id"`
	Title            string  `json:"title"`
	Priority         string  `json:"priority"`
	Status           string  `json:"status"`
	OwnerID          *string `json:"owner_id,omitempty"`
	EstimatedMinutes int     `json:"estimated_minutes"`
	Score            int     `json:"score"`
}

// Deck is the daily slice for an org.
type Deck struct {
	OrgID    string     `json:"org_id"`
	Date     string     `json:"date"`
	Items    []DeckItem `json:"items"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Event represents an audit fact.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	OrgID         string         `json:"org_id"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      string         `json:"entity_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateGoal creates a goal in the client's org.
func (c *Client) CreateGoal(ctx context.Context, title, description string) (Goal, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, c.orgPath("goals"), body, &resp)
	return resp, err
}

// CreateQuest creates a quest. Conditions use the API wire shape, e.g.
// map[string]any{"kind": "quest_completed", "quest_id": "q1"}.
func (c *Client) CreateQuest(ctx context.Context, title string, conditions []map[string]any) (Quest, error) {
	body := map[string]any{"title": title}
	if len(conditions) > 0 {
		body["unlock_conditions"] = conditions
	}
	var resp Quest
	err := c.do(ctx, http.MethodPost, c.orgPath("quests"), body, &resp)
	return resp, err
}

// CreateTask creates a task under a quest.
func (c *Client) CreateTask(ctx context.Context, questID, title string, estimatedMinutes int) (Task, error) {
	body := map[string]any{"title": title}
	if questID != "" {
		body["quest_id"] = questID
	}
	if estimatedMinutes > 0 {
		body["estimated_minutes"] = estimatedMinutes
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.orgPath("tasks"), body, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task, guarded by the version the caller last read.
// Pass nil to skip the guard.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string, expectedVersion *int64) (Task, error) {
	body := map[string]any{"status": status}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// ApproveTask records approval on an approval-gated task.
func (c *Client) ApproveTask(ctx context.Context, taskID, approverID string) (Task, error) {
	body := map[string]any{"approver_id": approverID}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/approve", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Run triggers one orchestration pass.
func (c *Client) Run(ctx context.Context) (RunResult, error) {
	var resp RunResult
	err := c.do(ctx, http.MethodPost, c.orgPath("runs"), nil, &resp)
	return resp, err
}

// Deck fetches the deck for a date ("today" works).
func (c *Client) Deck(ctx context.Context, date string) (Deck, error) {
	if date == "" {
		date = "today"
	}
	var resp Deck
	err := c.do(ctx, http.MethodGet, c.orgPath("decks/"+url.PathEscape(date)), nil, &resp)
	return resp, err
}

// Events returns recent audit facts.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.orgPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
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

func (c *Client) orgPath(p string) string {
	org := url.PathEscape(c.OrgID)
	return fmt.Sprintf("v0/orgs/%s/%s", org, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
