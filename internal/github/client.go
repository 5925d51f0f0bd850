// Package github fetches announcement issues from the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moonlight/internal/domain"
)

const (
	DefaultAPIURL   = "https://api.github.com"
	DefaultLabel    = "announcement"
	DefaultPageSize = 20
	DefaultTimeout  = 2 * time.Second

	acceptHeader = "application/vnd.github.v3+json"
)

type Client struct {
	apiURL     string
	label      string
	pageSize   int
	httpClient *http.Client
	log        *slog.Logger
}

type Options struct {
	APIURL   string
	Label    string
	PageSize int
	Timeout  time.Duration
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Client{
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		label:      opts.Label,
		pageSize:   opts.PageSize,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        log,
	}
}

type Request struct {
	Owner string
	Repo  string
	Token string
	ETag  string
}

// Result is a successful fetch. NotModified means the ETag still matches and
// Issues is empty.
type Result struct {
	NotModified bool
	Issues      []domain.Issue
	ETag        string
}

// StatusError reports a response that is neither 2xx nor 304.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "unexpected status: " + strconv.Itoa(e.StatusCode)
}

type issueUser struct {
	Login string `json:"login"`
}

type issueLabel struct {
	Name string `json:"name"`
}

type issue struct {
	User      *issueUser   `json:"user"`
	Title     string       `json:"title"`
	HTMLURL   string       `json:"html_url"`
	Body      *string      `json:"body"`
	CreatedAt string       `json:"created_at"`
	Labels    []issueLabel `json:"labels"`
	Number    int          `json:"number"`
}

// FetchIssues lists the labelled issues of a repository. Transport failures,
// timeouts and unexpected statuses are returned as errors.
func (c *Client) FetchIssues(ctx context.Context, r Request) (Result, error) {
	reqURL := c.issuesURL(r.Owner, r.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	if r.Token != "" {
		req.Header.Set("Authorization", "token "+r.Token)
	}
	if r.ETag != "" {
		req.Header.Set("If-None-Match", r.ETag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"url", reqURL,
				"operation", "FetchIssues")
		}
	}()

	if resp.StatusCode == http.StatusNotModified {
		return Result{NotModified: true, ETag: r.ETag}, nil
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, fmt.Errorf("do request: %w", &StatusError{StatusCode: resp.StatusCode})
	}

	var raw []issue
	if err = json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Result{}, fmt.Errorf("decode issues: %w", err)
	}

	issues := make([]domain.Issue, 0, len(raw))
	for _, it := range raw {
		issues = append(issues, it.toDomain())
	}

	return Result{
		Issues: issues,
		ETag:   resp.Header.Get("ETag"),
	}, nil
}

func (c *Client) issuesURL(owner string, repo string) string {
	q := url.Values{}
	q.Set("labels", c.label)
	q.Set("per_page", strconv.Itoa(c.pageSize))

	return fmt.Sprintf("%s/repos/%s/%s/issues?%s",
		c.apiURL, url.PathEscape(owner), url.PathEscape(repo), q.Encode())
}

func (it issue) toDomain() domain.Issue {
	out := domain.Issue{
		Title:     it.Title,
		URL:       it.HTMLURL,
		CreatedAt: it.CreatedAt,
		Number:    it.Number,
	}

	if it.User != nil {
		out.Author = it.User.Login
	}
	if it.Body != nil {
		out.Body = *it.Body
	}

	for _, label := range it.Labels {
		out.Labels = append(out.Labels, label.Name)
	}

	return out
}
