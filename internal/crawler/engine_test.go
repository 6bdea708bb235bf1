package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSession scripts Load outcomes per call and records lifecycle activity.
type fakeSession struct {
	startErr   error
	startCalls int
	closeCalls int
	started    bool
	kind       EngineKind

	loadCalls int
	loadFn    func(call int, url string) (PageSnapshot, error)

	videos  int
	crashes int
}

func (f *fakeSession) Start(_ context.Context, kind EngineKind) error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.kind = kind
	f.videos = 0
	return nil
}

func (f *fakeSession) Load(_ context.Context, url string) (PageSnapshot, error) {
	f.loadCalls++
	return f.loadFn(f.loadCalls, url)
}

func (f *fakeSession) Close()                  { f.closeCalls++; f.started = false }
func (f *fakeSession) Started() bool           { return f.started }
func (f *fakeSession) Kind() EngineKind        { return f.kind }
func (f *fakeSession) VideosSinceRestart() int { return f.videos }
func (f *fakeSession) ConsecutiveCrashes() int { return f.crashes }
func (f *fakeSession) RecordCrash()            { f.crashes++ }
func (f *fakeSession) RecordSuccess()          { f.videos++; f.crashes = 0 }
func (f *fakeSession) ResetCrashes()           { f.crashes = 0 }

func newTestEngine(sess Session, cfg Config) *Engine {
	e := NewEngine(sess, cfg, nil)
	e.sleep = func(context.Context, time.Duration) {}
	return e
}

const testVideoURL = "https://www.tiktok.com/@user/video/7123456789012345678"

func goodSnapshot() PageSnapshot {
	return PageSnapshot{UniversalData: universalDataPayload, Title: "video | TikTok"}
}

func TestCrawlSuccess(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return goodSnapshot(), nil
	}}
	e := newTestEngine(sess, Config{})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.True(t, res.Success)
	require.Equal(t, ErrNone, res.ErrorClass)
	require.NotNil(t, res.Views)
	require.Equal(t, int64(1_500_000), *res.Views)
	require.Equal(t, "2021-05-15", res.PublishDate)
	require.Equal(t, 1, sess.videos, "success must be recorded on the session")
	require.Equal(t, 1, sess.startCalls, "lazy start on first use")
}

func TestCrawlInvalidURLIsTerminal(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		t.Fatal("no navigation should happen for an invalid url")
		return PageSnapshot{}, nil
	}}
	e := newTestEngine(sess, Config{})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: "https://www.youtube.com/watch?v=x"})
	require.False(t, res.Success)
	require.True(t, res.IsBroken)
	require.Equal(t, ErrInvalidURL, res.ErrorClass)
	require.Nil(t, res.Views)
	require.Zero(t, sess.startCalls)
}

func TestCrawlRetriesExtractionFailureThenSucceeds(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(call int, _ string) (PageSnapshot, error) {
		if call < 3 {
			return PageSnapshot{Title: "video | TikTok"}, nil
		}
		return goodSnapshot(), nil
	}}
	e := newTestEngine(sess, Config{MaxRetries: 3})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.True(t, res.Success)
	require.Equal(t, 3, sess.loadCalls)
}

func TestCrawlExhaustedExtractionIsNotBroken(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return PageSnapshot{Title: "video | TikTok"}, nil
	}}
	e := newTestEngine(sess, Config{MaxRetries: 3})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.False(t, res.Success)
	require.False(t, res.IsBroken, "an extraction failure is transient, not a broken link")
	require.Equal(t, ErrExtractionFailed, res.ErrorClass)
	require.Equal(t, 4, sess.loadCalls, "initial attempt plus three retries")
}

func TestCrawlGoneTitleIsBrokenImmediately(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return PageSnapshot{Title: "Video currently unavailable | TikTok"}, nil
	}}
	e := newTestEngine(sess, Config{MaxRetries: 3})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.False(t, res.Success)
	require.True(t, res.IsBroken)
	require.Equal(t, ErrNotFound, res.ErrorClass)
	require.Nil(t, res.Views)
	require.Equal(t, 1, sess.loadCalls, "a confirmed-gone page is never retried")
}

func TestCrawlTimeoutExhaustionMarksBroken(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return PageSnapshot{}, context.DeadlineExceeded
	}}
	e := newTestEngine(sess, Config{MaxRetries: 3})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.False(t, res.Success)
	require.True(t, res.IsBroken)
	require.Equal(t, ErrTimeout, res.ErrorClass)
	require.Nil(t, res.Views, "a broken result never carries numbers")
	require.Equal(t, 4, sess.loadCalls)
	require.Equal(t, 4, sess.startCalls, "each timeout restarts the session")
}

func TestCrawlCrashLoopIsContained(t *testing.T) {
	t.Parallel()

	crashErr := errors.New("chrome: target crashed")
	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return PageSnapshot{}, crashErr
	}}
	e := newTestEngine(sess, Config{MaxRetries: 5, CrashBudget: 3})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.False(t, res.Success)
	require.False(t, res.IsBroken, "a crashing session says nothing about the target")
	require.Equal(t, ErrSessionCrash, res.ErrorClass)
	require.Equal(t, 3, sess.loadCalls, "the crash budget caps the attempts")
	require.Equal(t, 3, sess.crashes)

	// The next target is skipped once and the streak resets, so the batch
	// keeps moving instead of looping on a poisoned environment.
	res2 := e.Crawl(context.Background(), TargetRecord{RecordID: "rec2", URL: testVideoURL})
	require.False(t, res2.Success)
	require.Equal(t, ErrSessionCrash, res2.ErrorClass)
	require.False(t, res2.IsBroken)
	require.Equal(t, 3, sess.loadCalls, "skipped target must not navigate")
	require.Zero(t, sess.crashes, "streak resets after the skip")
}

func TestCrawlProactiveRestart(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return goodSnapshot(), nil
	}}
	sess.started = true
	sess.kind = EngineChromium
	sess.videos = 75

	e := newTestEngine(sess, Config{RestartEvery: 75})
	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.True(t, res.Success)
	require.Equal(t, 1, sess.startCalls, "restart triggered by the per-session page budget")
}

func TestCrawlPublishDatePreservation(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return goodSnapshot(), nil
	}}
	e := newTestEngine(sess, Config{})

	res := e.Crawl(context.Background(), TargetRecord{
		RecordID:            "rec1",
		URL:                 testVideoURL,
		ExistingPublishDate: "2020-01-01",
	})
	require.True(t, res.Success)
	require.Equal(t, "2020-01-01", res.PublishDate, "a valid stored date wins over the scraped one")

	sess2 := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		return goodSnapshot(), nil
	}}
	e2 := newTestEngine(sess2, Config{})
	res2 := e2.Crawl(context.Background(), TargetRecord{
		RecordID:            "rec1",
		URL:                 testVideoURL,
		ExistingPublishDate: "garbage",
	})
	require.Equal(t, "2021-05-15", res2.PublishDate, "an invalid stored date is replaced")
}

func TestCrawlCanceledMidRetryKeepsIdentity(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{loadFn: func(int, string) (PageSnapshot, error) {
		cancel()
		return PageSnapshot{Title: "video | TikTok"}, nil
	}}
	e := newTestEngine(sess, Config{MaxRetries: 3})

	res := e.Crawl(ctx, TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.False(t, res.Success)
	require.Equal(t, "rec1", res.RecordID, "a canceled target still owns its result")
	require.Equal(t, testVideoURL, res.URL)
	require.False(t, res.IsBroken, "cancellation says nothing about the target")
	require.NotEmpty(t, res.ErrorText)
	require.Equal(t, 1, sess.loadCalls, "no further attempts after cancellation")
}

func TestCrawlStartFailureIsTerminal(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		startErr: errors.New("exec: chrome not found"),
		loadFn: func(int, string) (PageSnapshot, error) {
			return PageSnapshot{}, nil
		},
	}
	e := newTestEngine(sess, Config{})

	res := e.Crawl(context.Background(), TargetRecord{RecordID: "rec1", URL: testVideoURL})
	require.False(t, res.Success)
	require.Equal(t, ErrSessionCrash, res.ErrorClass)
	require.Zero(t, sess.loadCalls)
}
