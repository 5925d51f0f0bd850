// Package store keeps the published feed documents on disk.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"

	"moonlight/internal/domain"
	"moonlight/internal/feed"
)

const (
	documentExt  = ".xml"
	documentPerm = 0o644
	dirPerm      = 0o755
)

type Store struct {
	dir string
	ns  domain.Namespace
	log *slog.Logger
}

func New(dir string, ns domain.Namespace, log *slog.Logger) *Store {
	return &Store{dir: dir, ns: ns, log: log}
}

// Path returns the document location of the named feed.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+documentExt)
}

// Load reads the previously published document of the named feed. It returns
// nil without error when the feed has never been published.
func (s *Store) Load(ctx context.Context, name string) (*domain.PriorFeed, error) {
	path := s.Path(name)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("open document: %w", err)
	}
	defer func() {
		if err = f.Close(); err != nil {
			s.log.ErrorContext(ctx, "Failed to close document",
				"error", err,
				"path", path,
				"operation", "Load")
		}
	}()

	parser := &rss.Parser{}
	parsed, err := parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse document (path = %s): %w", path, err)
	}

	prior := &domain.PriorFeed{
		ConfigHash: extensionValue(parsed.Extensions, s.ns.Prefix, "configHash"),
		Items:      make([]domain.FeedItem, 0, len(parsed.Items)),
	}
	if parsed.PubDateParsed != nil {
		prior.LastPublished = parsed.PubDateParsed.UTC()
	}

	for _, item := range parsed.Items {
		prior.Items = append(prior.Items, priorItem(item))
	}

	return prior, nil
}

// Save replaces the named feed's document. The new content is written to a
// temporary file first, so a failed write leaves the old document intact.
func (s *Store) Save(ctx context.Context, model *domain.FeedModel) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	path := s.Path(model.Name)

	tmp, err := os.CreateTemp(s.dir, "."+model.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if committed {
			return
		}
		if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			s.log.WarnContext(ctx, "Failed to remove temp document",
				"error", removeErr,
				"path", tmpPath)
		}
	}()

	if err = feed.Render(tmp, model, s.ns); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("render document: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync document: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close document: %w", err)
	}

	if err = os.Chmod(tmpPath, documentPerm); err != nil {
		return fmt.Errorf("chmod document: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename document: %w", err)
	}
	committed = true

	s.log.InfoContext(ctx, "Document is written",
		"feed", model.Name,
		"path", path,
		"itemCount", len(model.Items))

	return nil
}

func priorItem(item *rss.Item) domain.FeedItem {
	prior := domain.FeedItem{
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		PubDate:     item.PubDate,
	}

	if len(item.Categories) > 0 && item.Categories[0] != nil {
		prior.Category = domain.Category(strings.TrimSpace(item.Categories[0].Value))
	}

	if item.GUID != nil {
		prior.GUID = strings.TrimSpace(item.GUID.Value)
	}

	return prior
}

func extensionValue(extensions ext.Extensions, prefix string, name string) string {
	values := extensions[prefix][name]
	if len(values) == 0 {
		return ""
	}

	return strings.TrimSpace(values[0].Value)
}
