package github_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moonlight/internal/domain"
	"moonlight/internal/github"
)

const issuesJSON = `[
  {
    "number": 12,
    "title": "Breaking change",
    "html_url": "https://github.com/Arksine/moonraker/issues/12",
    "body": "Summary.\r\n\r\nDetails.",
    "created_at": "2024-05-20T08:30:00Z",
    "user": {"login": "Arksine"},
    "labels": [{"name": "announcement"}, {"name": "critical"}]
  },
  {
    "number": 7,
    "title": "No body",
    "html_url": "https://github.com/Arksine/moonraker/issues/7",
    "body": null,
    "created_at": "2024-04-01T00:00:00Z",
    "user": {"login": "someone"},
    "labels": []
  }
]`

func newClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *github.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return github.NewClient(github.Options{APIURL: srv.URL, Timeout: timeout}, slog.Default())
}

func TestFetchIssues(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/Arksine/moonraker/issues", r.URL.Path)
		assert.Equal(t, "announcement", r.URL.Query().Get("labels"))
		assert.Equal(t, "20", r.URL.Query().Get("per_page"))
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("If-None-Match"))

		w.Header().Set("ETag", `W/"v1"`)
		_, _ = w.Write([]byte(issuesJSON))
	}, 0)

	res, err := client.FetchIssues(context.Background(), github.Request{
		Owner: "Arksine",
		Repo:  "moonraker",
		Token: "secret",
	})
	require.NoError(t, err)

	assert.False(t, res.NotModified)
	assert.Equal(t, `W/"v1"`, res.ETag)
	assert.Equal(t, []domain.Issue{
		{
			Author:    "Arksine",
			Title:     "Breaking change",
			URL:       "https://github.com/Arksine/moonraker/issues/12",
			Body:      "Summary.\r\n\r\nDetails.",
			CreatedAt: "2024-05-20T08:30:00Z",
			Labels:    []string{"announcement", "critical"},
			Number:    12,
		},
		{
			Author:    "someone",
			Title:     "No body",
			URL:       "https://github.com/Arksine/moonraker/issues/7",
			CreatedAt: "2024-04-01T00:00:00Z",
			Number:    7,
		},
	}, res.Issues)
}

func TestFetchIssuesNotModified(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `W/"v1"`, r.Header.Get("If-None-Match"))
		assert.Empty(t, r.Header.Get("Authorization"))

		w.WriteHeader(http.StatusNotModified)
	}, 0)

	res, err := client.FetchIssues(context.Background(), github.Request{
		Owner: "Arksine",
		Repo:  "moonraker",
		ETag:  `W/"v1"`,
	})
	require.NoError(t, err)

	assert.True(t, res.NotModified)
	assert.Empty(t, res.Issues)
}

func TestFetchIssuesUnexpectedStatus(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}, 0)

	_, err := client.FetchIssues(context.Background(), github.Request{Owner: "a", Repo: "b"})
	require.Error(t, err)

	var statusErr *github.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestFetchIssuesTimeout(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte("[]"))
	}, 50*time.Millisecond)

	_, err := client.FetchIssues(context.Background(), github.Request{Owner: "a", Repo: "b"})
	assert.Error(t, err)
}

func TestFetchIssuesInvalidBody(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message": "not a list"}`))
	}, 0)

	_, err := client.FetchIssues(context.Background(), github.Request{Owner: "a", Repo: "b"})
	assert.Error(t, err)
}

func TestFetchIssuesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := github.NewClient(github.Options{APIURL: srv.URL}, slog.Default())

	_, err := client.FetchIssues(context.Background(), github.Request{Owner: "a", Repo: "b"})
	assert.Error(t, err)
}
