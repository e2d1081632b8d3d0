package store

import (
	"encoding/json"

	"github.com/jonwraymond/catalogops/catalog"
)

// Table names.
const (
	TableItems    = "library_items"
	TableProgress = "local_media_progress"
)

type itemRow struct {
	ID         string  `gorm:"column:id;primaryKey"`
	LibraryID  string  `gorm:"column:library_id;not null"`
	MediaType  string  `gorm:"column:media_type"`
	Title      string  `gorm:"column:title"`
	Author     string  `gorm:"column:author"`
	Series     string  `gorm:"column:series"`
	Narrator   string  `gorm:"column:narrator"`
	Genres     string  `gorm:"column:genres"` // JSON array
	Duration   float64 `gorm:"column:duration"`
	IsFinished bool    `gorm:"column:is_finished"`
	AddedAt    int64   `gorm:"column:added_at"`
	UpdatedAt  int64   `gorm:"column:updated_at;autoUpdateTime:false"`
	Data       string  `gorm:"column:data"`
}

func (itemRow) TableName() string { return TableItems }

type searchRow struct {
	Row       itemRow `gorm:"embedded"`
	MatchRank int     `gorm:"column:match_rank"`
}

type progressRow struct {
	ID            string  `gorm:"column:id;primaryKey"`
	LibraryItemID string  `gorm:"column:library_item_id;not null"`
	EpisodeID     string  `gorm:"column:episode_id"`
	CurrentTime   float64 `gorm:"column:current_time"`
	Duration      float64 `gorm:"column:duration"`
	Progress      float64 `gorm:"column:progress"`
	IsFinished    bool    `gorm:"column:is_finished"`
	LastUpdate    int64   `gorm:"column:last_update"`
}

func (progressRow) TableName() string { return TableProgress }

// indexes back the listing filters, sort orders and progress lookups.
var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_library_items_library_id ON library_items(library_id)`,
	`CREATE INDEX IF NOT EXISTS idx_library_items_added_at ON library_items(added_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_library_items_title ON library_items(title)`,
	`CREATE INDEX IF NOT EXISTS idx_library_items_author ON library_items(author)`,
	`CREATE INDEX IF NOT EXISTS idx_library_items_series ON library_items(series)`,
	`CREATE INDEX IF NOT EXISTS idx_library_items_composite ON library_items(library_id, added_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_library_items_filter ON library_items(library_id, media_type, is_finished)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_library_item ON local_media_progress(library_item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_last_update ON local_media_progress(last_update DESC)`,
}

func toItemRow(it catalog.Item) itemRow {
	genres := ""
	if len(it.Genres) > 0 {
		b, _ := json.Marshal(it.Genres)
		genres = string(b)
	}
	return itemRow{
		ID:         it.ID,
		LibraryID:  it.LibraryID,
		MediaType:  it.MediaType,
		Title:      it.Title,
		Author:     it.Author,
		Series:     it.Series,
		Narrator:   it.Narrator,
		Genres:     genres,
		Duration:   it.Duration,
		IsFinished: it.IsFinished,
		AddedAt:    it.AddedAt,
		UpdatedAt:  it.UpdatedAt,
		Data:       string(it.Data),
	}
}

func (r itemRow) item() catalog.Item {
	it := catalog.Item{
		ID:         r.ID,
		LibraryID:  r.LibraryID,
		MediaType:  r.MediaType,
		Title:      r.Title,
		Author:     r.Author,
		Series:     r.Series,
		Narrator:   r.Narrator,
		Duration:   r.Duration,
		IsFinished: r.IsFinished,
		AddedAt:    r.AddedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Genres != "" {
		_ = json.Unmarshal([]byte(r.Genres), &it.Genres)
	}
	if r.Data != "" {
		it.Data = json.RawMessage(r.Data)
	}
	return it
}
