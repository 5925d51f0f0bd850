package feed

import (
	"strings"

	"moonlight/internal/domain"
)

// Equal reports whether current carries the same content as the previously
// published feed. Items are joined by guid, so reordering alone is not a
// change. A nil previous feed never matches.
func Equal(current *domain.FeedModel, previous *domain.PriorFeed) bool {
	if current == nil || previous == nil {
		return false
	}

	if current.ConfigHash != previous.ConfigHash {
		return false
	}

	if len(current.Items) != len(previous.Items) {
		return false
	}

	prevByGUID := make(map[string]domain.FeedItem, len(previous.Items))
	for _, item := range previous.Items {
		prevByGUID[strings.TrimSpace(item.GUID)] = item
	}

	for _, item := range current.Items {
		guid := strings.TrimSpace(item.GUID)
		if guid == "" {
			return false
		}

		prev, ok := prevByGUID[guid]
		if !ok || !sameItemContent(item, prev) {
			return false
		}
	}

	return true
}

// sameItemContent compares the published fields of two items. Text is
// trimmed because the RSS parser trims element text on read.
func sameItemContent(a, b domain.FeedItem) bool {
	return sameText(a.Title, b.Title) &&
		sameText(a.Link, b.Link) &&
		sameText(a.Description, b.Description) &&
		sameText(a.PubDate, b.PubDate) &&
		sameText(string(a.Category), string(b.Category))
}

func sameText(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
