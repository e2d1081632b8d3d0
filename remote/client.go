package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonwraymond/catalogops/catalog"
	"github.com/jonwraymond/catalogops/transport"
)

// ErrNoEndpoint is returned by SetBaseURL and SetToken when the underlying
// transport cannot be reconfigured.
var ErrNoEndpoint = errors.New("remote: transport does not accept endpoint settings")

// Config configures a Client.
type Config struct {
	// Transport executes requests. Required.
	Transport transport.Transport

	// ListTimeout bounds listing and batch fetch requests.
	// Default: 30 seconds
	ListTimeout time.Duration
}

// Client is a catalog.Source backed by the media server's REST API.
type Client struct {
	tr          transport.Transport
	listTimeout time.Duration
}

var (
	_ catalog.Source   = (*Client)(nil)
	_ catalog.Endpoint = (*Client)(nil)
)

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.Transport == nil {
		return nil, errors.New("remote: transport is nil")
	}
	if config.ListTimeout <= 0 {
		config.ListTimeout = 30 * time.Second
	}
	return &Client{tr: config.Transport, listTimeout: config.ListTimeout}, nil
}

// SetBaseURL points the client at another server.
func (c *Client) SetBaseURL(raw string) error {
	ep, ok := c.tr.(catalog.Endpoint)
	if !ok {
		return ErrNoEndpoint
	}
	return ep.SetBaseURL(raw)
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(raw string) error {
	ep, ok := c.tr.(catalog.Endpoint)
	if !ok {
		return ErrNoEndpoint
	}
	return ep.SetToken(raw)
}

type listResponse struct {
	Results []catalog.Item `json:"results"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Page    int            `json:"page"`
}

// ListItems fetches one page of a library's items, minified.
func (c *Client) ListItems(ctx context.Context, q catalog.ListQuery) (catalog.Page, error) {
	q = q.Normalized()
	query := url.Values{
		"limit":    {strconv.Itoa(q.Limit)},
		"page":     {strconv.Itoa(q.Offset / q.Limit)},
		"sort":     {q.Sort},
		"desc":     {boolFlag(q.Desc)},
		"minified": {"1"},
	}
	if f := q.Filter.Encode(); f != "" {
		query.Set("filter", f)
	}

	var out listResponse
	err := c.do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    libraryPath(q.LibraryID, "items"),
		Query:   query,
		Timeout: c.listTimeout,
	}, &out)
	if err != nil {
		return catalog.Page{}, err
	}

	limit := out.Limit
	if limit == 0 {
		limit = q.Limit
	}
	return catalog.Page{
		Results: out.Results,
		Total:   out.Total,
		Limit:   limit,
		Offset:  q.Offset,
	}, nil
}

// CountItems asks for a single-item page and reads its total.
func (c *Client) CountItems(ctx context.Context, libraryID string, filter catalog.Filter) (int, error) {
	query := url.Values{
		"limit": {"1"},
		"count": {"1"},
	}
	if f := filter.Encode(); f != "" {
		query.Set("filter", f)
	}

	var out listResponse
	err := c.do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   libraryPath(libraryID, "items"),
		Query:  query,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Total, nil
}

// Search runs the server-side ranked search.
func (c *Client) Search(ctx context.Context, q catalog.SearchQuery) ([]catalog.SearchResult, error) {
	q = q.Normalized()
	query := url.Values{
		"q":     {q.Query},
		"limit": {strconv.Itoa(q.Limit)},
		"page":  {strconv.Itoa(q.Offset / q.Limit)},
	}

	var out struct {
		Results []catalog.SearchResult `json:"results"`
	}
	err := c.do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   libraryPath(q.LibraryID, "search"),
		Query:  query,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// FetchItems loads items by id in one request.
func (c *Client) FetchItems(ctx context.Context, ids []string) ([]catalog.Item, error) {
	resp, err := c.tr.Execute(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/api/items/batch",
		Body:    map[string]any{"itemIds": ids},
		Timeout: c.listTimeout,
	})
	if err != nil {
		return nil, err
	}
	return decodeItems(resp)
}

// RecentlyPlayed returns the user's items in progress, most recent first.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]catalog.Item, error) {
	var out struct {
		LibraryItems []catalog.Item `json:"libraryItems"`
	}
	err := c.do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/me/items-in-progress",
		Query:  url.Values{"limit": {strconv.Itoa(limit)}},
	}, &out)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out.LibraryItems) > limit {
		out.LibraryItems = out.LibraryItems[:limit]
	}
	return out.LibraryItems, nil
}

// WriteProgress posts every record in one batch request.
func (c *Client) WriteProgress(ctx context.Context, records []catalog.ProgressRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := c.tr.Execute(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/me/progress/batch",
		Body:   map[string]any{"updates": records},
	})
	return err
}

// WriteItems posts item updates in one batch request.
func (c *Client) WriteItems(ctx context.Context, items []catalog.Item) error {
	if len(items) == 0 {
		return nil
	}
	_, err := c.tr.Execute(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/api/items/batch/update",
		Body:    map[string]any{"items": items},
		Timeout: c.listTimeout,
	})
	return err
}

func (c *Client) do(ctx context.Context, req transport.Request, out any) error {
	resp, err := c.tr.Execute(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// decodeItems accepts either a bare array or {"libraryItems": [...]}.
func decodeItems(resp *transport.Response) ([]catalog.Item, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '[' {
		var items []catalog.Item
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("remote: decode items: %w", err)
		}
		return items, nil
	}
	var out struct {
		LibraryItems []catalog.Item `json:"libraryItems"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.LibraryItems, nil
}

func libraryPath(libraryID, leaf string) string {
	return "/api/libraries/" + url.PathEscape(libraryID) + "/" + leaf
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
