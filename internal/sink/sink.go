// Package sink abstracts the tabular destination the reconciler writes crawl
// results into. The production implementation is a Google Sheets worksheet;
// tests substitute an in-memory store.
package sink

import "context"

// Column layout of the tracking worksheet, columns A through G.
const (
	ColRecordID = iota
	ColLink
	ColViews
	ColBaseline
	ColPublishDate
	ColLastCheck
	ColStatus
	columnCount
)

// Row is one worksheet row. Cells are carried as strings; the reconciler owns
// all formatting, and empty string means a blank cell.
type Row struct {
	RecordID    string
	Link        string
	Views       string
	Baseline    string
	PublishDate string
	LastCheck   string
	Status      string
}

func (r Row) values() []interface{} {
	return []interface{}{
		r.RecordID, r.Link, r.Views, r.Baseline, r.PublishDate, r.LastCheck, r.Status,
	}
}

func rowFromCells(cells []interface{}) Row {
	get := func(i int) string {
		if i >= len(cells) {
			return ""
		}
		s, _ := cells[i].(string)
		return s
	}
	return Row{
		RecordID:    get(ColRecordID),
		Link:        get(ColLink),
		Views:       get(ColViews),
		Baseline:    get(ColBaseline),
		PublishDate: get(ColPublishDate),
		LastCheck:   get(ColLastCheck),
		Status:      get(ColStatus),
	}
}

// RowRef locates a record's first-occurrence row and carries the one cell the
// reconciler inspects before writing: the date already stored there.
type RowRef struct {
	Row         int
	PublishDate string
}

// Store is the write surface the reconciler needs. Row numbers are 1-based
// worksheet positions; row 1 is the header and is never touched.
type Store interface {
	// Rows returns every data row in worksheet order, starting at row 2.
	Rows(ctx context.Context) ([]Row, error)
	// ReadIndex maps record ID to a reference for its first occurrence.
	ReadIndex(ctx context.Context) (map[string]RowRef, error)
	UpdateRow(ctx context.Context, rowNum int, row Row) error
	AppendRow(ctx context.Context, row Row) error
	DeleteRow(ctx context.Context, rowNum int) error
}
