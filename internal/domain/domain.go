package domain

import "time"

type Category string

const (
	CategoryNormal Category = "normal"
	CategoryHigh   Category = "high"
)

// FeedConfig describes one published feed. Options holds the mapping exactly
// as it was loaded from the config file and is what gets fingerprinted.
type FeedConfig struct {
	Name               string
	RepoOwner          string
	RepoName           string
	Description        string
	AuthorizedCreators []string
	Options            map[string]any
}

type Issue struct {
	Author    string
	Title     string
	URL       string
	Body      string
	CreatedAt string
	Labels    []string
	Number    int
}

type FeedItem struct {
	Title       string
	Link        string
	Description string
	PubDate     string
	Category    Category
	GUID        string
}

type FeedModel struct {
	Name        string
	Repo        string
	Link        string
	Description string
	GeneratedAt time.Time
	ConfigHash  string
	Items       []FeedItem
}

// PriorFeed is the state extracted from a previously published document.
type PriorFeed struct {
	ConfigHash    string
	LastPublished time.Time
	Items         []FeedItem
}

type CacheEntry struct {
	ETag       string `json:"etag,omitempty"`
	ConfigHash string `json:"config_hash,omitempty"`
}

// Namespace is the private XML namespace carrying the config hash.
type Namespace struct {
	Prefix string
	URL    string
}
