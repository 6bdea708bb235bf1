package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clipmetrics/viewtracker/internal/crawler"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 30*time.Second, cfg.NavTimeout)
	require.Equal(t, 2500*time.Millisecond, cfg.WaitAfterLoad)
	require.Equal(t, 15*time.Second, cfg.CloseTimeout)
	require.Equal(t, 1920, cfg.WindowWidth)
	require.Equal(t, 1080, cfg.WindowHeight)
	require.NotEmpty(t, cfg.Timezone)
}

func TestPickUserAgentStaysInPool(t *testing.T) {
	t.Parallel()

	inPool := func(ua string, pool []string) bool {
		for _, p := range pool {
			if ua == p {
				return true
			}
		}
		return false
	}
	for i := 0; i < 50; i++ {
		require.True(t, inPool(pickUserAgent(crawler.EngineChromium), primaryUserAgents))
		require.True(t, inPool(pickUserAgent(crawler.EngineCompat), compatUserAgents))
	}
}

func TestManagerCountersWithoutBrowser(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{}, nil)
	require.False(t, m.Started())
	require.Equal(t, crawler.EngineChromium, m.Kind(), "default profile before first start")
	require.Zero(t, m.VideosSinceRestart())

	m.RecordCrash()
	m.RecordCrash()
	require.Equal(t, 2, m.ConsecutiveCrashes())

	m.RecordSuccess()
	require.Equal(t, 1, m.VideosSinceRestart())
	require.Zero(t, m.ConsecutiveCrashes(), "success ends the crash streak")

	m.RecordCrash()
	m.ResetCrashes()
	require.Zero(t, m.ConsecutiveCrashes())
}

func TestLoadBeforeStart(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{}, nil)
	_, err := m.Load(t.Context(), "https://www.tiktok.com/@u/video/1")
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestCloseWithoutStartIsNoop(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{}, nil)
	m.Close()
	require.False(t, m.Started())
}
