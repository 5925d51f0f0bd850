// Package publisher runs the fetch, build, compare and write cycle for every
// configured feed.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"moonlight/internal/cache"
	"moonlight/internal/domain"
	"moonlight/internal/feed"
	"moonlight/internal/github"
)

const (
	SignalCommit = "commit"
	SignalSkip   = "skip"
)

// State is where a feed's processing ended in a run.
type State string

const (
	StateNotModified State = "not_modified"
	StateFetchError  State = "fetch_error"
	StateBuildError  State = "build_error"
	StateUnchanged   State = "unchanged"
	StateChanged     State = "changed"
)

type IssueSource interface {
	FetchIssues(ctx context.Context, r github.Request) (github.Result, error)
}

type FeedStore interface {
	Load(ctx context.Context, name string) (*domain.PriorFeed, error)
	Save(ctx context.Context, model *domain.FeedModel) error
}

type Options struct {
	Token string
	// Force treats every fetched feed as changed.
	Force bool
}

type FeedReport struct {
	Name      string
	State     State
	ItemCount int
	Err       error
}

type Report struct {
	Changed bool
	Feeds   []FeedReport
}

// Signal is the token handed to the calling process.
func (r *Report) Signal() string {
	if r != nil && r.Changed {
		return SignalCommit
	}

	return SignalSkip
}

type Publisher struct {
	feeds  []domain.FeedConfig
	source IssueSource
	store  FeedStore
	cache  *cache.Cache
	opts   Options
	now    func() time.Time
	log    *slog.Logger
}

func New(
	feeds []domain.FeedConfig,
	source IssueSource,
	store FeedStore,
	c *cache.Cache,
	opts Options,
	log *slog.Logger,
) *Publisher {
	return &Publisher{
		feeds:  feeds,
		source: source,
		store:  store,
		cache:  c,
		opts:   opts,
		now:    time.Now,
		log:    log,
	}
}

// Run processes the feeds one by one in configuration order. Upstream and
// malformed data problems only affect their own feed; a failed document write
// aborts the run before the cache is persisted.
func (p *Publisher) Run(ctx context.Context) (*Report, error) {
	report := &Report{Feeds: make([]FeedReport, 0, len(p.feeds))}

	for _, cfg := range p.feeds {
		fr, err := p.processFeed(ctx, cfg)
		if err != nil {
			return nil, err
		}

		report.Feeds = append(report.Feeds, fr)
		if fr.State == StateChanged {
			report.Changed = true
		}
	}

	if _, err := p.cache.Persist(ctx); err != nil {
		return nil, fmt.Errorf("persist cache: %w", err)
	}

	return report, nil
}

func (p *Publisher) processFeed(ctx context.Context, cfg domain.FeedConfig) (FeedReport, error) {
	fr := FeedReport{Name: cfg.Name}
	configHash := feed.ConfigHash(cfg.Name, cfg.Options)

	res, err := p.source.FetchIssues(ctx, github.Request{
		Owner: cfg.RepoOwner,
		Repo:  cfg.RepoName,
		Token: p.opts.Token,
		ETag:  p.cache.ETag(cfg.Name),
	})
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to fetch issues",
			"error", err,
			"feed", cfg.Name,
			"repo", feed.RepoID(cfg))

		fr.State = StateFetchError
		fr.Err = err

		return fr, nil
	}

	if res.NotModified {
		p.log.InfoContext(ctx, "Feed is not modified",
			"feed", cfg.Name)

		fr.State = StateNotModified

		return fr, nil
	}

	model, err := feed.Build(cfg, res.Issues, configHash, p.now())
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to build feed",
			"error", err,
			"feed", cfg.Name,
			"issueCount", len(res.Issues))

		fr.State = StateBuildError
		fr.Err = err

		return fr, nil
	}
	fr.ItemCount = len(model.Items)

	changed := p.opts.Force
	if !changed {
		changed = !feed.Equal(model, p.loadPrior(ctx, cfg.Name))
	}

	if changed {
		if err = p.store.Save(ctx, model); err != nil {
			return fr, fmt.Errorf("save feed %q: %w", cfg.Name, err)
		}

		fr.State = StateChanged
	} else {
		fr.State = StateUnchanged
	}

	p.cache.Update(cfg.Name, domain.CacheEntry{ETag: res.ETag, ConfigHash: configHash})

	p.log.InfoContext(ctx, "Feed is processed",
		"feed", cfg.Name,
		"state", fr.State,
		"itemCount", fr.ItemCount,
		"issueCount", len(res.Issues),
		"force", p.opts.Force)

	return fr, nil
}

func (p *Publisher) loadPrior(ctx context.Context, name string) *domain.PriorFeed {
	prior, err := p.store.Load(ctx, name)
	if err != nil {
		p.log.WarnContext(ctx, "Failed to read previous document so feed is treated as new",
			"error", err,
			"feed", name)

		return nil
	}

	if prior != nil {
		p.log.DebugContext(ctx, "Previous document is loaded",
			"feed", name,
			"lastPublished", prior.LastPublished,
			"itemCount", len(prior.Items))
	}

	return prior
}
