package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hurttlocker/eventbot/internal/event"
)

const (
	notionVersion  = "2022-06-28"
	notionPageSize = 100
)

var (
	notionAPIBaseURL    = "https://api.notion.com/v1"
	notionMinRequestGap = 350 * time.Millisecond // ~3 req/sec
)

// NotionStore reads and writes event rows in one Notion database.
type NotionStore struct {
	token      string
	databaseID string
	httpClient *http.Client
	mu         sync.Mutex
	nextReq    time.Time
}

// NewNotionStore returns a store bound to databaseID.
func NewNotionStore(token, databaseID string) *NotionStore {
	return &NotionStore{
		token:      strings.TrimSpace(token),
		databaseID: strings.TrimSpace(databaseID),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// DatabaseID returns the bound database.
func (s *NotionStore) DatabaseID() string { return s.databaseID }

// Query returns one page of rows starting at cursor ("" for the first page).
func (s *NotionStore) Query(ctx context.Context, cursor string) (event.Page, error) {
	payload := map[string]interface{}{"page_size": notionPageSize}
	if cursor != "" {
		payload["start_cursor"] = cursor
	}

	var resp notionQueryResponse
	if err := s.doJSON(ctx, http.MethodPost, "/databases/"+s.databaseID+"/query", nil, payload, &resp); err != nil {
		return event.Page{}, err
	}

	page := event.Page{
		Records: make([]event.Stored, 0, len(resp.Results)),
		HasMore: resp.HasMore && strings.TrimSpace(resp.NextCursor) != "",
	}
	if page.HasMore {
		page.NextCursor = resp.NextCursor
	}
	for _, row := range resp.Results {
		page.Records = append(page.Records, event.Stored{ID: row.ID, Properties: row.properties()})
	}
	return page, nil
}

// Create inserts a row and returns its page ID.
func (s *NotionStore) Create(ctx context.Context, props event.Properties) (string, error) {
	payload := map[string]interface{}{
		"parent":     map[string]string{"database_id": s.databaseID},
		"properties": encodeProperties(props),
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/pages", nil, payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Update overwrites the given properties of an existing row.
func (s *NotionStore) Update(ctx context.Context, id string, props event.Properties) error {
	payload := map[string]interface{}{"properties": encodeProperties(props)}
	return s.doJSON(ctx, http.MethodPatch, "/pages/"+strings.TrimSpace(id), nil, payload, nil)
}

// Database describes the bound database's schema.
type Database struct {
	ID      string
	Title   string
	Columns map[string]string // name -> property type
}

// ColumnNames returns the column names in sorted order.
func (d Database) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for name := range d.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Retrieve fetches the database title and column types.
func (s *NotionStore) Retrieve(ctx context.Context) (Database, error) {
	var resp struct {
		ID         string           `json:"id"`
		Title      []notionRichText `json:"title"`
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/databases/"+s.databaseID, nil, nil, &resp); err != nil {
		return Database{}, err
	}
	db := Database{
		ID:      resp.ID,
		Title:   joinNotionRichText(resp.Title),
		Columns: make(map[string]string, len(resp.Properties)),
	}
	for name, p := range resp.Properties {
		db.Columns[name] = p.Type
	}
	return db, nil
}

// throttle reserves the next request slot and waits for it outside the lock.
func (s *NotionStore) throttle(ctx context.Context) error {
	if notionMinRequestGap <= 0 {
		return ctx.Err()
	}
	s.mu.Lock()
	now := time.Now()
	slot := s.nextReq
	if slot.Before(now) {
		slot = now
	}
	s.nextReq = slot.Add(notionMinRequestGap)
	s.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *NotionStore) doJSON(ctx context.Context, method, path string, query url.Values, payload interface{}, out interface{}) error {
	if err := s.throttle(ctx); err != nil {
		return fmt.Errorf("waiting for rate limit: %w", err)
	}

	endpoint := strings.TrimRight(notionAPIBaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{Service: "notion", Method: method, Path: path, StatusCode: resp.StatusCode, Body: truncateBody(b)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// encodeProperties renders typed values in the Notion page property format.
func encodeProperties(props event.Properties) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for name, v := range props {
		switch v.Kind {
		case event.KindTitle:
			out[name] = map[string]interface{}{"title": notionText(v.Text)}
		case event.KindRichText:
			out[name] = map[string]interface{}{"rich_text": notionText(v.Text)}
		case event.KindURL:
			out[name] = map[string]interface{}{"url": v.Text}
		case event.KindDate:
			out[name] = map[string]interface{}{"date": map[string]string{"start": v.Text}}
		case event.KindNumber:
			out[name] = map[string]interface{}{"number": v.Number}
		case event.KindSelect:
			out[name] = map[string]interface{}{"select": map[string]string{"name": v.Text}}
		}
	}
	return out
}

func notionText(s string) []map[string]interface{} {
	return []map[string]interface{}{{"text": map[string]string{"content": s}}}
}

type notionQueryResponse struct {
	Results    []notionRow `json:"results"`
	HasMore    bool        `json:"has_more"`
	NextCursor string      `json:"next_cursor"`
}

type notionRow struct {
	ID         string                    `json:"id"`
	Properties map[string]notionProperty `json:"properties"`
}

// properties converts the row into typed values. Empty cells are left out.
func (r notionRow) properties() event.Properties {
	props := make(event.Properties, len(r.Properties))
	for name, p := range r.Properties {
		if v, ok := p.value(); ok {
			props[name] = v
		}
	}
	return props
}

type notionProperty struct {
	Type     string           `json:"type"`
	Title    []notionRichText `json:"title,omitempty"`
	RichText []notionRichText `json:"rich_text,omitempty"`
	Select   *notionSelect    `json:"select,omitempty"`
	Number   *float64         `json:"number,omitempty"`
	URL      string           `json:"url,omitempty"`
	Date     *notionDate      `json:"date,omitempty"`
}

type notionRichText struct {
	PlainText string `json:"plain_text"`
}

type notionSelect struct {
	Name string `json:"name"`
}

type notionDate struct {
	Start string `json:"start"`
}

func (p notionProperty) value() (event.Value, bool) {
	switch p.Type {
	case "title":
		if s := joinNotionRichText(p.Title); s != "" {
			return event.TitleValue(s), true
		}
	case "rich_text":
		if s := joinNotionRichText(p.RichText); s != "" {
			return event.RichTextValue(s), true
		}
	case "url":
		if s := strings.TrimSpace(p.URL); s != "" {
			return event.URLValue(s), true
		}
	case "select":
		if p.Select != nil && strings.TrimSpace(p.Select.Name) != "" {
			return event.SelectValue(strings.TrimSpace(p.Select.Name)), true
		}
	case "number":
		if p.Number != nil {
			return event.NumberValue(*p.Number), true
		}
	case "date":
		if p.Date != nil && strings.TrimSpace(p.Date.Start) != "" {
			return event.Value{Kind: event.KindDate, Text: strings.TrimSpace(p.Date.Start)}, true
		}
	}
	return event.Value{}, false
}

func joinNotionRichText(parts []notionRichText) string {
	if len(parts) == 0 {
		return ""
	}
	b := strings.Builder{}
	for _, part := range parts {
		b.WriteString(part.PlainText)
	}
	return strings.TrimSpace(b.String())
}
