package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/catalogops/catalog"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// table is implemented by values with a tabular rendering.
type table interface {
	header() []string
	rows() [][]string
}

// render writes v in the requested format. Values without a tabular form
// fall back to YAML in table mode.
func render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		return yaml.NewEncoder(w).Encode(v)
	case formatTable, "":
		t, ok := v.(table)
		if !ok {
			return yaml.NewEncoder(w).Encode(v)
		}
		printTable(w, t)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// printTable writes t as a borderless, left-aligned table. Short rows are
// padded to the header width.
func printTable(w io.Writer, t table) {
	header := t.header()
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(true)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetBorder(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)

	for _, row := range t.rows() {
		if len(row) < len(header) {
			row = append(row, make([]string, len(header)-len(row))...)
		}
		tw.Append(row)
	}
	tw.Render()
}

type itemTable []catalog.Item

func (itemTable) header() []string {
	return []string{"ID", "TITLE", "AUTHOR", "SERIES", "DURATION", "FINISHED"}
}

func (t itemTable) rows() [][]string {
	out := make([][]string, len(t))
	for i, it := range t {
		out[i] = []string{
			it.ID, it.Title, it.Author, it.Series,
			formatSeconds(it.Duration), fmt.Sprint(it.IsFinished),
		}
	}
	return out
}

type pageView struct {
	Page catalog.Page `json:"page" yaml:"page"`
}

func (pageView) header() []string { return itemTable(nil).header() }

func (p pageView) rows() [][]string {
	rows := itemTable(p.Page.Results).rows()
	return append(rows, []string{
		fmt.Sprintf("(%d-%d of %d)", p.Page.Offset+min(1, len(p.Page.Results)), p.Page.Offset+len(p.Page.Results), p.Page.Total),
	})
}

type searchTable []catalog.SearchResult

func (searchTable) header() []string {
	return []string{"RANK", "ID", "TITLE", "AUTHOR", "SERIES"}
}

func (t searchTable) rows() [][]string {
	out := make([][]string, len(t))
	for i, r := range t {
		out[i] = []string{fmt.Sprint(r.Rank), r.Item.ID, r.Item.Title, r.Item.Author, r.Item.Series}
	}
	return out
}

func formatSeconds(s float64) string {
	return (time.Duration(s) * time.Second).String()
}
