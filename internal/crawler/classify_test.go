package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideTerminalClasses(t *testing.T) {
	t.Parallel()

	require.Equal(t, ActionFail, Decide(ErrInvalidURL, 0, 3, 0, 3))
	require.Equal(t, ActionFail, Decide(ErrNotFound, 0, 3, 0, 3))
}

func TestDecideSessionCrash(t *testing.T) {
	t.Parallel()

	require.Equal(t, ActionRestartAndRetry, Decide(ErrSessionCrash, 0, 3, 1, 3))
	require.Equal(t, ActionRestartAndRetry, Decide(ErrSessionCrash, 2, 3, 2, 3))
	require.Equal(t, ActionFail, Decide(ErrSessionCrash, 0, 3, 3, 3), "crash budget exhausted")
	require.Equal(t, ActionFail, Decide(ErrSessionCrash, 3, 3, 1, 3), "attempts exhausted")
}

func TestDecideTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, ActionRestartAndRetry, Decide(ErrTimeout, 0, 3, 0, 3))
	require.Equal(t, ActionRestartAndRetry, Decide(ErrTimeout, 2, 3, 0, 3))
	require.Equal(t, ActionFail, Decide(ErrTimeout, 3, 3, 0, 3))
}

func TestDecideExtractionFailure(t *testing.T) {
	t.Parallel()

	require.Equal(t, ActionRetry, Decide(ErrExtractionFailed, 0, 3, 0, 3))
	require.Equal(t, ActionRetry, Decide(ErrExtractionFailed, 2, 3, 0, 3))
	require.Equal(t, ActionFail, Decide(ErrExtractionFailed, 3, 3, 0, 3))
}

func TestClassifyLoadError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrNone},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"wrapped deadline", fmt.Errorf("load: %w", context.DeadlineExceeded), ErrTimeout},
		{"timeout text", errors.New("navigation timeout reached"), ErrTimeout},
		{"target crashed", errors.New("chrome: target crashed"), ErrSessionCrash},
		{"browser closed", errors.New("browser closed before navigation"), ErrSessionCrash},
		{"websocket", errors.New("websocket url timeout reached"), ErrSessionCrash},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrSessionCrash},
		{"anything else", errors.New("evaluate: mystery failure"), ErrExtractionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifyLoadError(tc.err))
		})
	}
}

func TestIsGoneError(t *testing.T) {
	t.Parallel()

	require.True(t, IsGoneError(errors.New("page returned 404")))
	require.True(t, IsGoneError(errors.New("video unavailable")))
	require.False(t, IsGoneError(errors.New("net::ERR_CONNECTION_RESET")))
	require.False(t, IsGoneError(nil))
}
