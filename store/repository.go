package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/catalogops/catalog"
	"github.com/jonwraymond/catalogops/resilience"
)

// sortColumns maps ListQuery.Sort values to columns.
var sortColumns = map[string]string{
	catalog.SortAddedAt:  "added_at",
	catalog.SortTitle:    "title",
	catalog.SortAuthor:   "author",
	catalog.SortDuration: "duration",
}

const itemColumns = `id, library_id, media_type, title, author, series, narrator, genres, duration, is_finished, added_at, updated_at, data`

const progressColumns = `id, library_item_id, episode_id, "current_time", duration, progress, is_finished, last_update`

// RepositoryConfig configures a Repository.
type RepositoryConfig struct {
	// Store executes SQL. Required.
	Store Store

	// ChunkSize is the number of rows per multi-row insert.
	// Default: 500
	ChunkSize int

	// Now stamps written rows.
	// Default: time.Now
	Now func() time.Time

	// Retry governs schema setup when another process holds the database
	// lock. Only transient store errors are retried.
	// Default: 3 retries from 100ms
	Retry *resilience.RetryPolicy
}

// maxBindVars is SQLite's default SQLITE_MAX_VARIABLE_NUMBER.
const maxBindVars = 32766

// rowsPerStatement caps chunkSize so one multi-row insert of cols columns
// stays within maxBindVars.
func rowsPerStatement(chunkSize, cols int) int {
	return max(1, min(chunkSize, maxBindVars/cols))
}

// Repository is a catalog.Source over the local SQLite database.
type Repository struct {
	store     Store
	chunkSize int
	now       func() time.Time
}

var (
	_ catalog.Source     = (*Repository)(nil)
	_ catalog.Maintainer = (*Repository)(nil)
	_ catalog.Counter    = (*Repository)(nil)
)

// NewRepository creates the tables and performance indexes if they do not
// exist and returns a Repository.
func NewRepository(ctx context.Context, config RepositoryConfig) (*Repository, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store: repository needs a store")
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 500
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Retry == nil {
		config.Retry = resilience.NewRetryPolicy(resilience.RetryConfig{
			MaxRetries: 3,
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   2 * time.Second,
		})
	}

	err := config.Retry.Execute(ctx, func(ctx context.Context) error {
		if err := config.Store.Migrate(ctx, &itemRow{}, &progressRow{}); err != nil {
			return err
		}
		for _, stmt := range indexes {
			if err := config.Store.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Repository{
		store:     config.Store,
		chunkSize: config.ChunkSize,
		now:       config.Now,
	}, nil
}

// ListItems returns one sorted page of a library's items and the total
// number of matching rows.
func (r *Repository) ListItems(ctx context.Context, q catalog.ListQuery) (catalog.Page, error) {
	q = q.Normalized()
	column, ok := sortColumns[q.Sort]
	if !ok {
		return catalog.Page{}, &resilience.ValidationError{Field: "sort", Message: fmt.Sprintf("unsupported sort field %q", q.Sort)}
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	where, args := filterClause(q.LibraryID, q.Filter)

	var rows []itemRow
	query := `SELECT ` + itemColumns + ` FROM library_items WHERE ` + where +
		` ORDER BY ` + column + ` ` + dir + `, id ASC LIMIT ? OFFSET ?`
	if err := r.store.Query(ctx, &rows, query, append(args, q.Limit, q.Offset)...); err != nil {
		return catalog.Page{}, err
	}

	total, err := r.count(ctx, where, args)
	if err != nil {
		return catalog.Page{}, err
	}

	page := catalog.Page{
		Results: make([]catalog.Item, len(rows)),
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	for i, row := range rows {
		page.Results[i] = row.item()
	}
	return page, nil
}

// CountItems counts a library's items matching filter.
func (r *Repository) CountItems(ctx context.Context, libraryID string, filter catalog.Filter) (int, error) {
	where, args := filterClause(libraryID, filter)
	return r.count(ctx, where, args)
}

func (r *Repository) count(ctx context.Context, where string, args []any) (int, error) {
	var n int64
	if err := r.store.Query(ctx, &n, `SELECT COUNT(*) FROM library_items WHERE `+where, args...); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Search ranks title matches first, then author, then series, then any
// other field, with ties broken by title.
func (r *Repository) Search(ctx context.Context, q catalog.SearchQuery) ([]catalog.SearchResult, error) {
	q = q.Normalized()
	if q.Query == "" {
		return nil, &resilience.ValidationError{Field: "q", Message: "is required"}
	}
	pattern := likePattern(q.Query)

	query := `SELECT ` + itemColumns + `,
		CASE
			WHEN title LIKE ? ESCAPE '\' THEN 1
			WHEN author LIKE ? ESCAPE '\' THEN 2
			WHEN series LIKE ? ESCAPE '\' THEN 3
			ELSE 4
		END AS match_rank
		FROM library_items
		WHERE library_id = ?
		AND (title LIKE ? ESCAPE '\'
			OR author LIKE ? ESCAPE '\'
			OR series LIKE ? ESCAPE '\'
			OR narrator LIKE ? ESCAPE '\'
			OR genres LIKE ? ESCAPE '\')
		ORDER BY match_rank, title
		LIMIT ? OFFSET ?`
	args := []any{
		pattern, pattern, pattern,
		q.LibraryID,
		pattern, pattern, pattern, pattern, pattern,
		q.Limit, q.Offset,
	}

	var rows []searchRow
	if err := r.store.Query(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	results := make([]catalog.SearchResult, len(rows))
	for i, row := range rows {
		results[i] = catalog.SearchResult{Item: row.Row.item(), Rank: row.MatchRank}
	}
	return results, nil
}

// FetchItems returns the stored items among ids, in the order requested.
// Unknown ids are skipped.
func (r *Repository) FetchItems(ctx context.Context, ids []string) ([]catalog.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []itemRow
	query := `SELECT ` + itemColumns + ` FROM library_items WHERE id IN ?`
	if err := r.store.Query(ctx, &rows, query, ids); err != nil {
		return nil, err
	}

	byID := make(map[string]itemRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	items := make([]catalog.Item, 0, len(rows))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			items = append(items, row.item())
		}
	}
	return items, nil
}

// RecentlyPlayed returns items ordered by their latest progress update.
func (r *Repository) RecentlyPlayed(ctx context.Context, limit int) ([]catalog.Item, error) {
	if limit <= 0 {
		limit = catalog.DefaultRecentlyPlayedLimit
	}

	var rows []itemRow
	query := `SELECT li.id, li.library_id, li.media_type, li.title, li.author, li.series,
			li.narrator, li.genres, li.duration, li.is_finished, li.added_at, li.updated_at, li.data
		FROM library_items li
		JOIN (
			SELECT library_item_id, MAX(last_update) AS last_update
			FROM local_media_progress
			GROUP BY library_item_id
		) p ON p.library_item_id = li.id
		ORDER BY p.last_update DESC
		LIMIT ?`
	if err := r.store.Query(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	items := make([]catalog.Item, len(rows))
	for i, row := range rows {
		items[i] = row.item()
	}
	return items, nil
}

// WriteProgress upserts records in chunks inside one transaction. Records
// without LastUpdate are stamped with the current time.
func (r *Repository) WriteProgress(ctx context.Context, records []catalog.ProgressRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := r.now().UnixMilli()

	size := rowsPerStatement(r.chunkSize, 8)
	var stmts []Statement
	for start := 0; start < len(records); start += size {
		chunk := records[start:min(start+size, len(records))]
		args := make([]any, 0, len(chunk)*8)
		for _, rec := range chunk {
			last := rec.LastUpdate
			if last == 0 {
				last = now
			}
			args = append(args, rec.ID, rec.LibraryItemID, rec.EpisodeID, rec.CurrentTime,
				rec.Duration, rec.Progress, rec.IsFinished, last)
		}
		stmts = append(stmts, Statement{
			SQL:  upsert(TableProgress, progressColumns, 8, len(chunk)),
			Args: args,
		})
	}
	return r.store.Transaction(ctx, stmts)
}

// WriteItems upserts items in chunks inside one transaction.
func (r *Repository) WriteItems(ctx context.Context, items []catalog.Item) error {
	if len(items) == 0 {
		return nil
	}
	now := r.now().UnixMilli()

	size := rowsPerStatement(r.chunkSize, 13)
	var stmts []Statement
	for start := 0; start < len(items); start += size {
		chunk := items[start:min(start+size, len(items))]
		args := make([]any, 0, len(chunk)*13)
		for _, it := range chunk {
			row := toItemRow(it)
			if row.AddedAt == 0 {
				row.AddedAt = now
			}
			if row.UpdatedAt == 0 {
				row.UpdatedAt = now
			}
			args = append(args, row.ID, row.LibraryID, row.MediaType, row.Title, row.Author,
				row.Series, row.Narrator, row.Genres, row.Duration, row.IsFinished,
				row.AddedAt, row.UpdatedAt, row.Data)
		}
		stmts = append(stmts, Statement{
			SQL:  upsert(TableItems, itemColumns, 13, len(chunk)),
			Args: args,
		})
	}
	return r.store.Transaction(ctx, stmts)
}

// Maintain reclaims free pages and refreshes planner statistics.
func (r *Repository) Maintain(ctx context.Context) error {
	if err := r.store.Exec(ctx, "VACUUM"); err != nil {
		return err
	}
	return r.store.Exec(ctx, "ANALYZE")
}

// Counts returns the row count of each table.
func (r *Repository) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 2)
	for _, table := range []string{TableItems, TableProgress} {
		var n int64
		if err := r.store.Query(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

// filterClause builds the WHERE clause shared by listings and counts.
func filterClause(libraryID string, f catalog.Filter) (string, []any) {
	clauses := []string{"library_id = ?"}
	args := []any{libraryID}
	if f.MediaType != "" {
		clauses = append(clauses, "media_type = ?")
		args = append(args, f.MediaType)
	}
	if f.IsFinished != nil {
		clauses = append(clauses, "is_finished = ?")
		args = append(args, *f.IsFinished)
	}
	if f.Series != "" {
		clauses = append(clauses, `series LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.Series))
	}
	return strings.Join(clauses, " AND "), args
}

// upsert renders a multi-row INSERT OR REPLACE.
func upsert(table, columns string, width, rows int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	values := strings.TrimSuffix(strings.Repeat(tuple+", ", rows), ", ")
	return "INSERT OR REPLACE INTO " + table + " (" + columns + ") VALUES " + values
}

// likePattern wraps s in % wildcards, escaping LIKE metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
