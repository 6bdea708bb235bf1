package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateURLAcceptsVideoLinks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"full video url", "https://www.tiktok.com/@user/video/7123456789012345678", "https://www.tiktok.com/@user/video/7123456789012345678"},
		{"scheme added", "www.tiktok.com/@user/video/7123456789012345678", "https://www.tiktok.com/@user/video/7123456789012345678"},
		{"vt short link", "https://vt.tiktok.com/ZS8abcDEF/", "https://vt.tiktok.com/ZS8abcDEF/"},
		{"vm short link", "https://vm.tiktok.com/ZM8abcDEF/", "https://vm.tiktok.com/ZM8abcDEF/"},
		{"mobile host", "https://m.tiktok.com/v/7123456789012345678.html", "https://m.tiktok.com/v/7123456789012345678.html"},
		{"surrounding whitespace", "  https://www.tiktok.com/@user/video/123  ", "https://www.tiktok.com/@user/video/123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestValidateURLRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"too short", "tiktok.c"},
		{"wrong site", "https://www.youtube.com/watch?v=abc123"},
		{"lookalike domain", "https://www.tiktok.evil.com/@user/video/123"},
		{"profile url", "https://www.tiktok.com/@someuser"},
		{"video path without id", "https://www.tiktok.com/@user/video/abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateURL(tc.in)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidTarget)
		})
	}
}

func TestVideoID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "7123", VideoID("https://www.tiktok.com/@user/video/7123"))
	require.Empty(t, VideoID("https://vt.tiktok.com/ZS8abcDEF/"))
}
