package publisher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moonlight/internal/cache"
	"moonlight/internal/domain"
	"moonlight/internal/github"
	"moonlight/internal/store"
)

var testNamespace = domain.Namespace{Prefix: "moonlight", URL: "https://arksine.github.io/moonlight"}

type fetchResponse struct {
	issues []domain.Issue
	etag   string
	err    error
}

// stubSource serves canned issue lists per repository and honours ETags the
// way GitHub does.
type stubSource struct {
	responses map[string]fetchResponse
	requests  []github.Request
}

func (s *stubSource) FetchIssues(_ context.Context, r github.Request) (github.Result, error) {
	s.requests = append(s.requests, r)

	resp, ok := s.responses[r.Owner+"/"+r.Repo]
	if !ok {
		return github.Result{}, &github.StatusError{StatusCode: 404}
	}
	if resp.err != nil {
		return github.Result{}, resp.err
	}

	if r.ETag != "" && r.ETag == resp.etag {
		return github.Result{NotModified: true, ETag: r.ETag}, nil
	}

	return github.Result{Issues: resp.issues, ETag: resp.etag}, nil
}

type failingStore struct {
	*store.Store
}

func (failingStore) Save(context.Context, *domain.FeedModel) error {
	return errors.New("disk full")
}

type env struct {
	assetsDir string
	cachePath string
	source    *stubSource
	feeds     []domain.FeedConfig
	clock     time.Time
}

func newEnv(t *testing.T, feeds ...domain.FeedConfig) *env {
	t.Helper()

	dir := t.TempDir()

	return &env{
		assetsDir: filepath.Join(dir, "assets"),
		cachePath: filepath.Join(dir, "cache", "request_cache.json"),
		source:    &stubSource{responses: map[string]fetchResponse{}},
		feeds:     feeds,
		clock:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (e *env) run(t *testing.T, opts Options, cacheEnabled bool) *Report {
	t.Helper()

	report, err := e.runWithStore(t, opts, cacheEnabled, nil)
	require.NoError(t, err)

	return report
}

func (e *env) runWithStore(t *testing.T, opts Options, cacheEnabled bool, fs FeedStore) (*Report, error) {
	t.Helper()

	ctx := context.Background()
	log := slog.Default()

	if fs == nil {
		fs = store.New(e.assetsDir, testNamespace, log)
	}

	names := make([]string, 0, len(e.feeds))
	for _, f := range e.feeds {
		names = append(names, f.Name)
	}

	c, err := cache.Open(ctx, cache.NewJSONFile(e.cachePath, log), cacheEnabled, names, log)
	require.NoError(t, err)

	p := New(e.feeds, e.source, fs, c, opts, log)
	p.now = func() time.Time { return e.clock }

	// Each run happens later than the previous one, like real invocations.
	e.clock = e.clock.Add(time.Hour)

	return p.Run(ctx)
}

func (e *env) document(t *testing.T, name string) []byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(e.assetsDir, name+".xml"))
	require.NoError(t, err)

	return data
}

func feedConfig(name, owner, repo string, creators ...string) domain.FeedConfig {
	creatorsAny := make([]any, 0, len(creators))
	for _, c := range creators {
		creatorsAny = append(creatorsAny, c)
	}

	return domain.FeedConfig{
		Name:               name,
		RepoOwner:          owner,
		RepoName:           repo,
		Description:        name + " announcements",
		AuthorizedCreators: creators,
		Options: map[string]any{
			"repo_owner":          owner,
			"repo_name":           repo,
			"description":         name + " announcements",
			"authorized_creators": creatorsAny,
		},
	}
}

func announcement(number int, author string, labels ...string) domain.Issue {
	return domain.Issue{
		Author:    author,
		Title:     "Announcement",
		URL:       "https://github.com/Arksine/moonraker/issues/1",
		Body:      "Please read.\r\n\r\nThanks.",
		CreatedAt: "2024-05-20T08:30:00Z",
		Labels:    append([]string{"announcement"}, labels...),
		Number:    number,
	}
}

func TestRunFirstCommitThenSkip(t *testing.T) {
	e := newEnv(t, feedConfig("moonraker", "Arksine", "moonraker", "Arksine"))
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{
			announcement(2, "Arksine", "critical"),
			announcement(1, "intruder"),
		},
		etag: `W/"v1"`,
	}

	first := e.run(t, Options{}, false)
	assert.Equal(t, SignalCommit, first.Signal())
	require.Len(t, first.Feeds, 1)
	assert.Equal(t, StateChanged, first.Feeds[0].State)
	assert.Equal(t, 1, first.Feeds[0].ItemCount)

	doc := e.document(t, "moonraker")
	assert.Contains(t, string(doc), "<category>high</category>")
	assert.Contains(t, string(doc), "<guid>arksine/moonraker/issue/2</guid>")
	assert.NotContains(t, string(doc), "issue/1<")

	second := e.run(t, Options{}, false)
	assert.Equal(t, SignalSkip, second.Signal())
	assert.Equal(t, StateUnchanged, second.Feeds[0].State)
	assert.Equal(t, doc, e.document(t, "moonraker"))
}

func TestRunNotModifiedLeavesDocument(t *testing.T) {
	e := newEnv(t, feedConfig("moonraker", "Arksine", "moonraker", "Arksine"))
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
		etag:   `W/"v1"`,
	}

	first := e.run(t, Options{}, true)
	assert.Equal(t, SignalCommit, first.Signal())

	doc := e.document(t, "moonraker")
	cacheData, err := os.ReadFile(e.cachePath)
	require.NoError(t, err)

	// Upstream content changes but the stub still answers 304 for the old ETag.
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine"), announcement(2, "Arksine")},
		etag:   `W/"v1"`,
	}

	second := e.run(t, Options{Force: true}, true)
	assert.Equal(t, SignalSkip, second.Signal())
	assert.Equal(t, StateNotModified, second.Feeds[0].State)
	assert.Equal(t, `W/"v1"`, e.source.requests[1].ETag)

	assert.Equal(t, doc, e.document(t, "moonraker"))

	cacheAfter, err := os.ReadFile(e.cachePath)
	require.NoError(t, err)
	assert.Equal(t, cacheData, cacheAfter)
}

func TestRunFetchErrorIsIsolated(t *testing.T) {
	e := newEnv(t,
		feedConfig("broken", "nobody", "missing", "nobody"),
		feedConfig("moonraker", "Arksine", "moonraker", "Arksine"),
	)
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
		etag:   `"m1"`,
	}

	report := e.run(t, Options{}, true)

	require.Len(t, report.Feeds, 2)
	assert.Equal(t, StateFetchError, report.Feeds[0].State)
	assert.Error(t, report.Feeds[0].Err)
	assert.Equal(t, StateChanged, report.Feeds[1].State)
	assert.Equal(t, SignalCommit, report.Signal())

	assert.NoFileExists(t, filepath.Join(e.assetsDir, "broken.xml"))

	c, err := cache.NewJSONFile(e.cachePath, slog.Default()).Load(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, c, "broken")
	assert.Equal(t, `"m1"`, c["moonraker"].ETag)
}

func TestRunTransportErrorIsRecoverable(t *testing.T) {
	e := newEnv(t, feedConfig("moonraker", "Arksine", "moonraker", "Arksine"))
	e.source.responses["Arksine/moonraker"] = fetchResponse{err: context.DeadlineExceeded}

	report := e.run(t, Options{}, false)

	assert.Equal(t, StateFetchError, report.Feeds[0].State)
	assert.ErrorIs(t, report.Feeds[0].Err, context.DeadlineExceeded)
	assert.Equal(t, SignalSkip, report.Signal())
}

func TestRunMalformedIssueKeepsPreviousState(t *testing.T) {
	e := newEnv(t,
		feedConfig("moonraker", "Arksine", "moonraker", "Arksine"),
		feedConfig("klipper", "Klipper3d", "klipper", "KevinOConnor"),
	)
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
		etag:   `"m1"`,
	}
	e.source.responses["Klipper3d/klipper"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "KevinOConnor")},
		etag:   `"k1"`,
	}

	e.run(t, Options{}, true)
	doc := e.document(t, "moonraker")

	broken := announcement(2, "Arksine")
	broken.CreatedAt = ""
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine"), broken},
		etag:   `"m2"`,
	}
	e.source.responses["Klipper3d/klipper"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "KevinOConnor"), announcement(2, "KevinOConnor")},
		etag:   `"k2"`,
	}

	report := e.run(t, Options{}, true)

	assert.Equal(t, StateBuildError, report.Feeds[0].State)
	assert.Equal(t, StateChanged, report.Feeds[1].State)
	assert.Equal(t, doc, e.document(t, "moonraker"))

	c, err := cache.NewJSONFile(e.cachePath, slog.Default()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"m1"`, c["moonraker"].ETag)
	assert.Equal(t, `"k2"`, c["klipper"].ETag)
}

func TestRunUnchangedRecordsNewETag(t *testing.T) {
	e := newEnv(t, feedConfig("moonraker", "Arksine", "moonraker", "Arksine"))
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
		etag:   `"v1"`,
	}

	e.run(t, Options{}, true)

	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
		etag:   `"v2"`,
	}

	report := e.run(t, Options{}, true)
	assert.Equal(t, StateUnchanged, report.Feeds[0].State)
	assert.Equal(t, SignalSkip, report.Signal())

	c, err := cache.NewJSONFile(e.cachePath, slog.Default()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, c["moonraker"].ETag)
}

func TestRunForceRepublishes(t *testing.T) {
	e := newEnv(t, feedConfig("moonraker", "Arksine", "moonraker", "Arksine"))
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
	}

	e.run(t, Options{}, false)
	doc := e.document(t, "moonraker")

	report := e.run(t, Options{Force: true}, false)

	assert.Equal(t, StateChanged, report.Feeds[0].State)
	assert.Equal(t, SignalCommit, report.Signal())
	assert.NotEqual(t, doc, e.document(t, "moonraker"), "channel pubDate moves with each write")
}

func TestRunConfigChangeRepublishes(t *testing.T) {
	e := newEnv(t, feedConfig("moonraker", "Arksine", "moonraker", "Arksine"))
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
	}

	e.run(t, Options{}, false)

	e.feeds = []domain.FeedConfig{feedConfig("moonraker", "Arksine", "moonraker", "Arksine", "helper")}

	report := e.run(t, Options{}, false)
	assert.Equal(t, StateChanged, report.Feeds[0].State)
}

func TestRunWriteFailureAbortsWithoutCache(t *testing.T) {
	e := newEnv(t, feedConfig("moonraker", "Arksine", "moonraker", "Arksine"))
	e.source.responses["Arksine/moonraker"] = fetchResponse{
		issues: []domain.Issue{announcement(1, "Arksine")},
		etag:   `"v1"`,
	}

	fs := failingStore{Store: store.New(e.assetsDir, testNamespace, slog.Default())}

	report, err := e.runWithStore(t, Options{}, true, fs)

	require.Error(t, err)
	assert.Nil(t, report)
	assert.NoFileExists(t, e.cachePath)
}
