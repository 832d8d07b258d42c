// Package loader reads plain-text and markdown documents from the local filesystem.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/markdown"
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
}

// Loader turns files under a root directory into documents.
type Loader struct {
	root       string
	owner      string
	normalizer *markdown.Normalizer
	logger     zerolog.Logger
}

// New creates a loader for root. Every document it produces carries owner.
func New(root, owner string, logger zerolog.Logger) *Loader {
	return &Loader{
		root:       root,
		owner:      owner,
		normalizer: markdown.NewNormalizer(),
		logger:     logger,
	}
}

// Supported reports whether the file at path is loaded.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// Load walks the root in lexical order and loads every supported file.
// Unreadable files are logged and skipped.
func (l *Loader) Load(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document

	err := godirwalk.Walk(l.root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if path != l.root && (skipDirs[de.Name()] || strings.HasPrefix(de.Name(), ".")) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !Supported(path) {
				return nil
			}

			doc, err := l.LoadFile(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("failed to load file")
				return nil
			}
			docs = append(docs, doc)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}

	l.logger.Info().Int("count", len(docs)).Str("root", l.root).Msg("loaded documents")
	return docs, nil
}

// LoadFile reads a single file. Its id is the slash-separated path relative to
// the root, or the cleaned path when it lies outside the root.
func (l *Loader) LoadFile(path string) (domain.Document, error) {
	if !Supported(path) {
		return domain.Document{}, fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidInput, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("stat %s: %w", path, err)
	}

	id := l.documentID(path)
	var doc domain.Document
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		doc = domain.Document{
			ID:    id,
			Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Text:  string(data),
		}
	} else {
		doc, err = l.normalizer.Document(id, "", data)
		if err != nil {
			return domain.Document{}, err
		}
	}

	doc.Source = path
	doc.Owner = l.owner
	doc.UpdatedAt = info.ModTime()
	return doc, nil
}

func (l *Loader) documentID(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}
