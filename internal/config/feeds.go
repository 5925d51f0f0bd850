package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"moonlight/internal/domain"
)

// ErrInvalidFeed marks a feed entry that cannot be used to build a feed.
var ErrInvalidFeed = errors.New("invalid feed config")

var feedNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type rawFeed struct {
	name    string
	options map[string]any
}

// LoadFeeds reads the feed configuration file. The format is picked by
// extension (.toml, .yaml/.yml, anything else is JSON with comments allowed)
// and feeds are returned in the order they appear in the file.
func LoadFeeds(path string) ([]domain.FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed config: %w", err)
	}

	var raws []rawFeed

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		raws, err = decodeTOML(data)
	case ".yaml", ".yml":
		raws, err = decodeYAML(data)
	default:
		raws, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse feed config (path = %s): %w", path, err)
	}

	return parseFeeds(raws)
}

// parseFeeds validates decoded feed entries.
func parseFeeds(raws []rawFeed) ([]domain.FeedConfig, error) {
	feeds := make([]domain.FeedConfig, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))

	for _, raw := range raws {
		if _, ok := seen[raw.name]; ok {
			return nil, fmt.Errorf("%w: duplicate feed %q", ErrInvalidFeed, raw.name)
		}
		seen[raw.name] = struct{}{}

		cfg, err := feedFromOptions(raw.name, raw.options)
		if err != nil {
			return nil, err
		}

		feeds = append(feeds, cfg)
	}

	return feeds, nil
}

func decodeJSON(data []byte) ([]rawFeed, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("top level value is not an object")
	}

	var raws []rawFeed
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}

		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var options map[string]any
		if err = dec.Decode(&options); err != nil {
			return nil, fmt.Errorf("decode feed %q: %w", name, err)
		}

		raws = append(raws, rawFeed{name: name, options: options})
	}

	if _, err = dec.Token(); err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	return raws, nil
}

func decodeTOML(data []byte) ([]rawFeed, error) {
	var tables map[string]map[string]any

	md, err := toml.Decode(string(data), &tables)
	if err != nil {
		return nil, fmt.Errorf("decode toml: %w", err)
	}

	raws := make([]rawFeed, 0, len(tables))
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}

		name := key[0]
		if _, ok := tables[name]; !ok {
			continue
		}

		raws = append(raws, rawFeed{name: name, options: tables[name]})
	}

	// Tables only defined implicitly through dotted keys are not reported by
	// Keys; append them in a stable order.
	seen := lo.SliceToMap(raws, func(r rawFeed) (string, struct{}) { return r.name, struct{}{} })
	rest := lo.Filter(lo.Keys(tables), func(name string, _ int) bool {
		_, ok := seen[name]
		return !ok
	})
	slices.Sort(rest)

	for _, name := range rest {
		raws = append(raws, rawFeed{name: name, options: tables[name]})
	}

	return raws, nil
}

func decodeYAML(data []byte) ([]rawFeed, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("top level value is not a mapping")
	}

	raws := make([]rawFeed, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value

		var options map[string]any
		if err := root.Content[i+1].Decode(&options); err != nil {
			return nil, fmt.Errorf("decode feed %q: %w", name, err)
		}

		raws = append(raws, rawFeed{name: name, options: options})
	}

	return raws, nil
}

func feedFromOptions(name string, options map[string]any) (domain.FeedConfig, error) {
	if !feedNameRe.MatchString(name) {
		return domain.FeedConfig{}, fmt.Errorf("%w: feed name %q is not a valid file name", ErrInvalidFeed, name)
	}

	if options == nil {
		return domain.FeedConfig{}, fmt.Errorf("%w: feed %q has no options", ErrInvalidFeed, name)
	}

	owner, err := requiredString(name, options, "repo_owner", false)
	if err != nil {
		return domain.FeedConfig{}, err
	}

	repo, err := requiredString(name, options, "repo_name", false)
	if err != nil {
		return domain.FeedConfig{}, err
	}

	description, err := requiredString(name, options, "description", true)
	if err != nil {
		return domain.FeedConfig{}, err
	}

	creators, err := requiredStrings(name, options, "authorized_creators")
	if err != nil {
		return domain.FeedConfig{}, err
	}

	return domain.FeedConfig{
		Name:               name,
		RepoOwner:          owner,
		RepoName:           repo,
		Description:        description,
		AuthorizedCreators: creators,
		Options:            options,
	}, nil
}

func requiredString(feed string, options map[string]any, key string, allowEmpty bool) (string, error) {
	v, ok := options[key]
	if !ok {
		return "", fmt.Errorf("%w: feed %q is missing %q", ErrInvalidFeed, feed, key)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: feed %q field %q is not a string", ErrInvalidFeed, feed, key)
	}

	if !allowEmpty && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: feed %q field %q is empty", ErrInvalidFeed, feed, key)
	}

	return s, nil
}

func requiredStrings(feed string, options map[string]any, key string) ([]string, error) {
	v, ok := options[key]
	if !ok {
		return nil, fmt.Errorf("%w: feed %q is missing %q", ErrInvalidFeed, feed, key)
	}

	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		items = lo.ToAnySlice(list)
	default:
		return nil, fmt.Errorf("%w: feed %q field %q is not a list", ErrInvalidFeed, feed, key)
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: feed %q field %q item %d is not a non-empty string",
				ErrInvalidFeed, feed, key, i)
		}

		out = append(out, s)
	}

	return out, nil
}
