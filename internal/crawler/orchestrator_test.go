package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(sess Session, cfg Config) *Orchestrator {
	return NewOrchestrator(newTestEngine(sess, cfg), sess, cfg, nil)
}

func TestCrawlAllEmptyBatch(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return goodSnapshot(), nil
	}}
	o := newTestOrchestrator(sess, Config{})

	results, err := o.CrawlAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Zero(t, sess.startCalls, "no browser work for an empty batch")
}

func TestCrawlAllProcessesEveryTarget(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return goodSnapshot(), nil
	}}
	o := newTestOrchestrator(sess, Config{})

	targets := []TargetRecord{
		{RecordID: "a", URL: testVideoURL},
		{RecordID: "b", URL: testVideoURL},
		{RecordID: "c", URL: "not a link"},
	}
	results, err := o.CrawlAll(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].Success)
	require.True(t, results[1].Success)
	require.False(t, results[2].Success)
	require.Equal(t, ErrInvalidURL, results[2].ErrorClass)
	require.Equal(t, 1, sess.closeCalls, "session closed when the batch ends")
}

func TestCrawlAllStartFailureAbortsBatch(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		startErr: errors.New("exec: chrome not found"),
		loadFn: func(int, string) (PageSnapshot, error) {
			return PageSnapshot{}, nil
		},
	}
	o := newTestOrchestrator(sess, Config{})

	_, err := o.CrawlAll(context.Background(), []TargetRecord{{RecordID: "a", URL: testVideoURL}})
	require.Error(t, err)
	require.Zero(t, sess.loadCalls)
}

func TestCrawlAllCancellationReturnsPartialResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{loadFn: func(call int, _ string) (PageSnapshot, error) {
		if call == 2 {
			cancel()
		}
		return goodSnapshot(), nil
	}}
	o := newTestOrchestrator(sess, Config{RetryFailedAtEnd: false})

	targets := []TargetRecord{
		{RecordID: "a", URL: testVideoURL},
		{RecordID: "b", URL: testVideoURL},
		{RecordID: "c", URL: testVideoURL},
		{RecordID: "d", URL: testVideoURL},
	}
	results, err := o.CrawlAll(ctx, targets)
	require.NoError(t, err)
	require.Less(t, len(results), len(targets), "cancellation must cut the batch short")
	require.NotEmpty(t, results)
}

func TestCrawlAllRetryWaveRecoversFailures(t *testing.T) {
	t.Parallel()

	// Target "b" times out during the main pass and recovers in the retry
	// wave; its entry must be replaced in place.
	failures := map[string]int{"https://www.tiktok.com/@user/video/222": 4}
	sess := &fakeSession{loadFn: func(_ int, url string) (PageSnapshot, error) {
		if failures[url] > 0 {
			failures[url]--
			return PageSnapshot{}, context.DeadlineExceeded
		}
		return goodSnapshot(), nil
	}}
	cfg := Config{MaxRetries: 3, RetryFailedAtEnd: true}
	o := newTestOrchestrator(sess, cfg)

	targets := []TargetRecord{
		{RecordID: "a", URL: "https://www.tiktok.com/@user/video/111"},
		{RecordID: "b", URL: "https://www.tiktok.com/@user/video/222"},
	}
	results, err := o.CrawlAll(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.True(t, results[1].Success, "retry wave must replace the failed entry in place")
	require.Equal(t, "b", results[1].RecordID)
}

func TestCrawlAllCompatWaveRunsAfterPrimaryWave(t *testing.T) {
	t.Parallel()

	// The target keeps failing on the primary profile and only loads once the
	// compat profile is active.
	sess := &fakeSession{}
	sess.loadFn = func(int, string) (PageSnapshot, error) {
		if sess.kind == EngineCompat {
			return goodSnapshot(), nil
		}
		return PageSnapshot{}, context.DeadlineExceeded
	}
	cfg := Config{MaxRetries: 1, RetryFailedAtEnd: true, UseCompatRetry: true}
	o := newTestOrchestrator(sess, cfg)

	results, err := o.CrawlAll(context.Background(), []TargetRecord{{RecordID: "a", URL: testVideoURL}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, EngineCompat, sess.kind)
}

func TestCrawlAllDoesNotRetryTerminalFailures(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return PageSnapshot{Title: "Video currently unavailable | TikTok"}, nil
	}}
	cfg := Config{MaxRetries: 1, RetryFailedAtEnd: true, UseCompatRetry: true}
	o := newTestOrchestrator(sess, cfg)

	results, err := o.CrawlAll(context.Background(), []TargetRecord{{RecordID: "a", URL: testVideoURL}})
	require.NoError(t, err)
	require.Equal(t, 1, sess.loadCalls, "a gone target is excluded from retry waves")
	require.True(t, results[0].IsBroken)
}

func TestCrawlOne(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return goodSnapshot(), nil
	}}
	o := newTestOrchestrator(sess, Config{})

	res, err := o.CrawlOne(context.Background(), TargetRecord{URL: testVideoURL})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, sess.closeCalls)
}
