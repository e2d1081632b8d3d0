package catalog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

// Sort fields accepted by ListQuery.Sort.
const (
	SortAddedAt  = "addedAt"
	SortTitle    = "title"
	SortAuthor   = "author"
	SortDuration = "duration"
)

// Query defaults.
const (
	DefaultListLimit           = 100
	DefaultSearchLimit         = 50
	DefaultRecentlyPlayedLimit = 20
)

// Item is one library item (a book or a podcast).
type Item struct {
	ID         string          `json:"id" validate:"required"`
	LibraryID  string          `json:"libraryId" validate:"required"`
	MediaType  string          `json:"mediaType,omitempty"`
	Title      string          `json:"title"`
	Author     string          `json:"author,omitempty"`
	Series     string          `json:"series,omitempty"`
	Narrator   string          `json:"narrator,omitempty"`
	Genres     []string        `json:"genres,omitempty"`
	Duration   float64         `json:"duration" validate:"gte=0"`
	IsFinished bool            `json:"isFinished"`
	AddedAt    int64           `json:"addedAt"`   // Unix milliseconds
	UpdatedAt  int64           `json:"updatedAt"` // Unix milliseconds
	Data       json.RawMessage `json:"data,omitempty"`
}

// Page is one window of a sorted item listing.
type Page struct {
	Results []Item `json:"results"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

// Filter narrows a listing or count. Zero fields are ignored.
type Filter struct {
	MediaType  string `json:"mediaType,omitempty"`
	IsFinished *bool  `json:"isFinished,omitempty"`
	Series     string `json:"series,omitempty"`
}

// Empty reports whether no field is set.
func (f Filter) Empty() bool {
	return f.MediaType == "" && f.IsFinished == nil && f.Series == ""
}

// Encode renders f in the server's filter grammar: comma separated
// "<field>.<base64url value>" terms in a fixed field order.
func (f Filter) Encode() string {
	var terms []string
	add := func(field, value string) {
		terms = append(terms, field+"."+base64.RawURLEncoding.EncodeToString([]byte(value)))
	}
	if f.MediaType != "" {
		add("mediaType", f.MediaType)
	}
	if f.IsFinished != nil {
		add("isFinished", strconv.FormatBool(*f.IsFinished))
	}
	if f.Series != "" {
		add("series", f.Series)
	}
	return strings.Join(terms, ",")
}

// ListQuery selects a page of a library's items.
type ListQuery struct {
	LibraryID string `json:"libraryId" validate:"required"`
	Offset    int    `json:"offset" validate:"gte=0"`
	Limit     int    `json:"limit" validate:"gte=0,lte=5000"`
	Sort      string `json:"sort" validate:"omitempty,oneof=addedAt title author duration"`
	Desc      bool   `json:"desc"`
	Filter    Filter `json:"filter"`
}

// Normalized returns q with defaults applied.
func (q ListQuery) Normalized() ListQuery {
	if q.Limit == 0 {
		q.Limit = DefaultListLimit
	}
	if q.Sort == "" {
		q.Sort = SortAddedAt
	}
	return q
}

// SearchQuery is a ranked text search within one library.
type SearchQuery struct {
	LibraryID string `json:"libraryId" validate:"required"`
	Query     string `json:"q" validate:"required"`
	Offset    int    `json:"offset" validate:"gte=0"`
	Limit     int    `json:"limit" validate:"gte=0,lte=1000"`
}

// Normalized returns q with defaults applied and the query trimmed.
func (q SearchQuery) Normalized() SearchQuery {
	q.Query = strings.TrimSpace(q.Query)
	if q.Limit == 0 {
		q.Limit = DefaultSearchLimit
	}
	return q
}

// SearchResult is one ranked hit. Lower ranks match better: 1 title,
// 2 author, 3 series, 4 any other field.
type SearchResult struct {
	Item Item `json:"libraryItem"`
	Rank int  `json:"rank"`
}

// ProgressRecord is the playback position of one item (or episode).
type ProgressRecord struct {
	ID            string  `json:"id" validate:"required"`
	LibraryItemID string  `json:"libraryItemId" validate:"required"`
	EpisodeID     string  `json:"episodeId,omitempty"`
	CurrentTime   float64 `json:"currentTime" validate:"gte=0"`
	Duration      float64 `json:"duration" validate:"gte=0"`
	Progress      float64 `json:"progress" validate:"gte=0,lte=1"`
	IsFinished    bool    `json:"isFinished"`
	LastUpdate    int64   `json:"lastUpdate"` // Unix milliseconds
}

// Source is the system of record behind the Service: a remote API or
// the local store.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: every method must honor cancellation and deadlines.
//   - Errors: failures should be classified with the resilience error types so
//     the scheduler can decide what to retry.
//   - Writes: WriteProgress and WriteItems are all-or-nothing where the
//     backend allows it.
type Source interface {
	ListItems(ctx context.Context, q ListQuery) (Page, error)
	CountItems(ctx context.Context, libraryID string, filter Filter) (int, error)
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	FetchItems(ctx context.Context, ids []string) ([]Item, error)
	RecentlyPlayed(ctx context.Context, limit int) ([]Item, error)
	WriteProgress(ctx context.Context, records []ProgressRecord) error
	WriteItems(ctx context.Context, items []Item) error
}

// Endpoint is implemented by sources that talk to a server.
type Endpoint interface {
	SetBaseURL(raw string) error
	SetToken(raw string) error
}

// Maintainer is implemented by sources that support storage maintenance.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Counter is implemented by sources that can report row counts.
type Counter interface {
	Counts(ctx context.Context) (map[string]int64, error)
}
