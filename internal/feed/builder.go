package feed

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"mvdan.cc/xurls/v2"

	"moonlight/internal/domain"
)

// ErrMalformedIssue is returned by Build when an authorized issue lacks a
// field needed to render its item.
var ErrMalformedIssue = errors.New("malformed issue")

// Build turns issues into a feed model. Issues whose author is not an
// authorized creator are dropped; the rest keep their input order. An issue
// without an author fails the whole build with ErrMalformedIssue.
func Build(
	cfg domain.FeedConfig,
	issues []domain.Issue,
	configHash string,
	now time.Time,
) (*domain.FeedModel, error) {
	authorized := lo.SliceToMap(cfg.AuthorizedCreators, func(creator string) (string, struct{}) {
		return strings.ToLower(strings.TrimSpace(creator)), struct{}{}
	})

	urlRe, err := xurls.StrictMatchingScheme("https?://")
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	model := &domain.FeedModel{
		Name:        cfg.Name,
		Repo:        strings.ToLower(RepoID(cfg)),
		Link:        RepoLink(cfg),
		Description: xmlText(cfg.Description),
		GeneratedAt: now.UTC(),
		ConfigHash:  configHash,
	}

	seen := make(map[string]struct{}, len(issues))

	for i, issue := range issues {
		if strings.TrimSpace(issue.Author) == "" {
			return nil, fmt.Errorf("build item (index = %d, number = %d): %w: author is missing",
				i, issue.Number, ErrMalformedIssue)
		}

		if _, ok := authorized[strings.ToLower(strings.TrimSpace(issue.Author))]; !ok {
			continue
		}

		item, itemErr := buildItem(cfg, issue, urlRe.FindString)
		if itemErr != nil {
			return nil, fmt.Errorf("build item (index = %d, number = %d): %w", i, issue.Number, itemErr)
		}

		if _, ok := seen[item.GUID]; ok {
			continue
		}
		seen[item.GUID] = struct{}{}

		model.Items = append(model.Items, item)
	}

	return model, nil
}

func buildItem(
	cfg domain.FeedConfig,
	issue domain.Issue,
	findURL func(string) string,
) (domain.FeedItem, error) {
	switch {
	case strings.TrimSpace(issue.Title) == "":
		return domain.FeedItem{}, fmt.Errorf("%w: title is empty", ErrMalformedIssue)
	case issue.Number <= 0:
		return domain.FeedItem{}, fmt.Errorf("%w: number %d is not positive", ErrMalformedIssue, issue.Number)
	case strings.TrimSpace(issue.CreatedAt) == "":
		return domain.FeedItem{}, fmt.Errorf("%w: created_at is empty", ErrMalformedIssue)
	}

	link := strings.TrimSpace(xmlText(issue.URL))
	if link == "" || findURL(link) != link {
		return domain.FeedItem{}, fmt.Errorf("%w: url %q is not an absolute URL", ErrMalformedIssue, issue.URL)
	}

	pubDate, err := formatPubDate(issue.CreatedAt)
	if err != nil {
		return domain.FeedItem{}, fmt.Errorf("%w: %w", ErrMalformedIssue, err)
	}

	return domain.FeedItem{
		Title:       xmlText(issue.Title),
		Link:        link,
		Description: descriptionFromBody(issue.Body),
		PubDate:     pubDate,
		Category:    categoryFromLabels(issue.Labels),
		GUID:        IssueGUID(cfg, issue.Number),
	}, nil
}
