package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeLink(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"bare string", `"https://vt.tiktok.com/abc"`, "https://vt.tiktok.com/abc"},
		{"object prefers link", `{"text":"watch this","link":"https://vt.tiktok.com/abc"}`, "https://vt.tiktok.com/abc"},
		{"object falls back to text", `{"text":"https://vt.tiktok.com/abc","link":""}`, "https://vt.tiktok.com/abc"},
		{"segment list", `[{"text":"see: "},{"text":"clip","link":"https://vt.tiktok.com/abc"}]`, "https://vt.tiktok.com/abc"},
		{"null", `null`, ""},
		{"empty", ``, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeLink(json.RawMessage(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := DecodeLink(json.RawMessage(`12345`))
	require.Error(t, err)
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	got, err := DecodeText(json.RawMessage(`" hello "`))
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	got, err = DecodeText(json.RawMessage(`[{"text":"a"},{"text":"b"}]`))
	require.NoError(t, err)
	require.Equal(t, "ab", got)

	got, err = DecodeText(json.RawMessage(`42`))
	require.NoError(t, err)
	require.Equal(t, "42", got)
}

func TestDecodeNumber(t *testing.T) {
	t.Parallel()

	v, err := DecodeNumber(json.RawMessage(`12345`))
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, int64(12345), *v)

	v, err = DecodeNumber(json.RawMessage(`"1,234"`))
	require.NoError(t, err)
	require.Equal(t, int64(1234), *v)

	v, err = DecodeNumber(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Nil(t, v, "empty cell is nil, not zero")

	v, err = DecodeNumber(json.RawMessage(`""`))
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = DecodeNumber(json.RawMessage(`"lots"`))
	require.Error(t, err)
}

func TestDecodeDate(t *testing.T) {
	t.Parallel()

	// 2021-05-15T00:00:00Z in ms.
	got, err := DecodeDate(json.RawMessage(`1621036800000`))
	require.NoError(t, err)
	require.Equal(t, "2021-05-15", got)

	got, err = DecodeDate(json.RawMessage(`"2021-05-15"`))
	require.NoError(t, err)
	require.Equal(t, "2021-05-15", got)

	got, err = DecodeDate(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = DecodeDate(json.RawMessage(`{"bad":"shape"}`))
	require.Error(t, err)
}

func TestDecodeTargets(t *testing.T) {
	t.Parallel()

	records := []RawRecord{
		{
			RecordID: "rec1",
			Fields: map[string]json.RawMessage{
				FieldLink:        json.RawMessage(`{"text":"clip","link":"https://vt.tiktok.com/abc"}`),
				FieldViews:       json.RawMessage(`1000`),
				FieldBaseline:    json.RawMessage(`800`),
				FieldPublishDate: json.RawMessage(`1621036800000`),
			},
		},
		{RecordID: "rec2", Fields: map[string]json.RawMessage{}},
		{
			RecordID: "rec3",
			Fields: map[string]json.RawMessage{
				FieldLink:  json.RawMessage(`"https://vt.tiktok.com/xyz"`),
				FieldViews: json.RawMessage(`"not a number"`),
			},
		},
	}

	targets := DecodeTargets(records, nil)
	require.Len(t, targets, 2, "rows without a link are dropped")

	require.Equal(t, "rec1", targets[0].RecordID)
	require.Equal(t, "https://vt.tiktok.com/abc", targets[0].URL)
	require.NotNil(t, targets[0].ExistingViews)
	require.Equal(t, int64(1000), *targets[0].ExistingViews)
	require.Equal(t, int64(800), *targets[0].ExistingBaselineViews)
	require.Equal(t, "2021-05-15", targets[0].ExistingPublishDate)

	require.Equal(t, "rec3", targets[1].RecordID)
	require.Nil(t, targets[1].ExistingViews, "a bad cell is ignored, not fatal")
}
