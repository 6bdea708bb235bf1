package sink

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestRowCellRoundTrip(t *testing.T) {
	t.Parallel()

	row := Row{
		RecordID:    "rec1",
		Link:        "https://vt.tiktok.com/a",
		Views:       "1200",
		Baseline:    "1000",
		PublishDate: "2021-05-15",
		LastCheck:   "2025-08-23 12:00:00",
		Status:      "success",
	}
	require.Equal(t, row, rowFromCells(row.values()))
}

func TestRowFromShortCells(t *testing.T) {
	t.Parallel()

	// The API omits trailing empty cells; missing columns read as blank.
	row := rowFromCells([]interface{}{"rec1", "https://vt.tiktok.com/a"})
	require.Equal(t, "rec1", row.RecordID)
	require.Equal(t, "https://vt.tiktok.com/a", row.Link)
	require.Empty(t, row.Views)
	require.Empty(t, row.Status)
}

func TestIsQuotaError(t *testing.T) {
	t.Parallel()

	require.True(t, IsQuotaError(&googleapi.Error{Code: 429}))
	require.True(t, IsQuotaError(&googleapi.Error{Code: 403, Message: "Quota exceeded for quota metric"}))
	require.True(t, IsQuotaError(fmt.Errorf("wrap: %w", &googleapi.Error{Code: 429})))
	require.True(t, IsQuotaError(errors.New("googleapi: quota exceeded for write requests")))
	require.False(t, IsQuotaError(&googleapi.Error{Code: 500, Message: "backend error"}))
	require.False(t, IsQuotaError(errors.New("connection reset")))
	require.False(t, IsQuotaError(nil))
}
