package feed

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"moonlight/internal/domain"
)

const (
	descriptionMaxChars = 512
	descriptionEllipsis = "..."

	criticalLabel = "critical"

	githubHost = "https://github.com"
)

// rfc2822GMT is the RSS date layout with an explicit GMT designator.
const rfc2822GMT = http.TimeFormat

// xmlText replaces invalid UTF-8 and runes outside the XML Char production
// with U+FFFD, so the text reads back from the document unchanged.
func xmlText(s string) string {
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}

		return utf8.RuneError
	}, strings.ToValidUTF8(s, string(utf8.RuneError)))
}

func isXMLChar(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= utf8.MaxRune
}

func descriptionFromBody(body string) string {
	desc := strings.ReplaceAll(strings.TrimSpace(xmlText(body)), "\r\n", "\n")
	desc, _, _ = strings.Cut(desc, "\n\n")
	desc = strings.ReplaceAll(desc, "\n", " ")

	runes := []rune(desc)
	if len(runes) <= descriptionMaxChars {
		return desc
	}

	return string(runes[:descriptionMaxChars-len(descriptionEllipsis)]) + descriptionEllipsis
}

func formatPubDate(createdAt string) (string, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(createdAt))
	if err != nil {
		return "", fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}

	return FormatDate(t), nil
}

// FormatDate renders t in RFC 2822 form in GMT.
func FormatDate(t time.Time) string {
	return t.UTC().Format(rfc2822GMT)
}

func categoryFromLabels(labels []string) domain.Category {
	for _, label := range labels {
		if label == criticalLabel {
			return domain.CategoryHigh
		}
	}

	return domain.CategoryNormal
}

// RepoID returns the "owner/repo" identifier of a feed.
func RepoID(cfg domain.FeedConfig) string {
	return cfg.RepoOwner + "/" + cfg.RepoName
}

// RepoLink returns the repository page on GitHub.
func RepoLink(cfg domain.FeedConfig) string {
	return githubHost + "/" + RepoID(cfg)
}

// IssueGUID is the lowercase owner/repo/issue/number identifier of an issue.
func IssueGUID(cfg domain.FeedConfig, number int) string {
	return strings.ToLower(RepoID(cfg) + "/issue/" + strconv.Itoa(number))
}
