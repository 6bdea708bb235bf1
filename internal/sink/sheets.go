package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/clipmetrics/viewtracker/internal/telemetry"
)

// firstDataRow is the worksheet row the data starts on; row 1 is the header.
const firstDataRow = 2

// SheetStore implements Store on a Google Sheets worksheet.
type SheetStore struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	sheetID       int64
	logger        *zap.Logger
}

// NewSheetStore builds the Sheets service and resolves the worksheet's grid
// ID, which row deletion needs.
func NewSheetStore(ctx context.Context, spreadsheetID, sheetName string, logger *zap.Logger, opts ...option.ClientOption) (*SheetStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("build sheets service: %w", err)
	}

	meta, err := svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	sheetID := int64(-1)
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == sheetName {
			sheetID = s.Properties.SheetId
			break
		}
	}
	if sheetID < 0 {
		return nil, fmt.Errorf("worksheet %q not found in spreadsheet %s", sheetName, spreadsheetID)
	}

	return &SheetStore{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		sheetID:       sheetID,
		logger:        logger,
	}, nil
}

// Rows reads every data row below the header.
func (s *SheetStore) Rows(ctx context.Context) ([]Row, error) {
	rng := fmt.Sprintf("%s!A%d:G", s.sheetName, firstDataRow)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	rows := make([]Row, 0, len(resp.Values))
	for _, cells := range resp.Values {
		rows = append(rows, rowFromCells(cells))
	}
	return rows, nil
}

// ReadIndex maps record ID to a reference for its first occurrence.
func (s *SheetStore) ReadIndex(ctx context.Context) (map[string]RowRef, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]RowRef, len(rows))
	for i, row := range rows {
		if row.RecordID == "" {
			continue
		}
		if _, seen := index[row.RecordID]; !seen {
			index[row.RecordID] = RowRef{Row: firstDataRow + i, PublishDate: row.PublishDate}
		}
	}
	return index, nil
}

// UpdateRow overwrites one row's A:G cells. Values go in RAW so date and
// number strings land exactly as written, never reinterpreted by the sheet.
func (s *SheetStore) UpdateRow(ctx context.Context, rowNum int, row Row) error {
	rng := fmt.Sprintf("%s!A%d:G%d", s.sheetName, rowNum, rowNum)
	vr := &sheets.ValueRange{Values: [][]interface{}{row.values()}}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowNum, err)
	}
	telemetry.SinkWrites.WithLabelValues("update").Inc()
	return nil
}

// AppendRow adds a row after the last data row.
func (s *SheetStore) AppendRow(ctx context.Context, row Row) error {
	rng := fmt.Sprintf("%s!A:G", s.sheetName)
	vr := &sheets.ValueRange{Values: [][]interface{}{row.values()}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rng, vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	telemetry.SinkWrites.WithLabelValues("insert").Inc()
	return nil
}

// DeleteRow removes one row from the grid; rows below it shift up.
func (s *SheetStore) DeleteRow(ctx context.Context, rowNum int) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    s.sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowNum - 1),
					EndIndex:   int64(rowNum),
				},
			},
		}},
	}
	_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete row %d: %w", rowNum, err)
	}
	telemetry.SinkWrites.WithLabelValues("delete").Inc()
	return nil
}

// IsQuotaError reports whether err is the sheet API rejecting on rate quota.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			return true
		}
		msg := strings.ToLower(apiErr.Message)
		if strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota exceeded") || strings.Contains(msg, "rate_limit_exceeded")
}
