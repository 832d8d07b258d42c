package github

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/go-github/v81/github"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/markdown"
)

// DefaultFetchConcurrency bounds parallel file downloads.
const DefaultFetchConcurrency = 4

// Source names a directory of a repository at a ref.
type Source struct {
	Owner string
	Repo  string
	Path  string
	Ref   string // Branch, tag or commit; empty means the default branch
}

// FetchedDoc represents a markdown document fetched from GitHub
type FetchedDoc struct {
	Path    string // Relative path within the source directory
	Content []byte
	SHA     string // File's Git blob SHA
	URL     string // Raw download URL
}

// FetchFailure records a file that could not be fetched or normalized.
type FetchFailure struct {
	Path string
	Err  error
}

// Fetcher handles fetching documentation from GitHub repositories
type Fetcher struct {
	client     *Client
	src        Source
	normalizer *markdown.Normalizer
	logger     zerolog.Logger
}

// NewFetcher creates a new document fetcher
func NewFetcher(client *Client, src Source, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:     client,
		src:        src,
		normalizer: markdown.NewNormalizer(),
		logger:     logger,
	}
}

// ListDocs recursively lists all markdown files under the source directory.
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listDocsRecursive(ctx, f.src.Path, "")
}

func (f *Fetcher) listDocsRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.src.Owner, f.src.Repo, fullPath, f.refOptions())
	if err != nil {
		return nil, fmt.Errorf("get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch item.GetType() {
		case "file":
			if isMarkdown(name) {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listDocsRecursive(ctx, path.Join(fullPath, name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

// FetchDoc fetches the content of a specific markdown file
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.src.Path, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.src.Owner, f.src.Repo, fullPath, f.refOptions())
	if err != nil {
		return nil, fmt.Errorf("get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", fullPath, err)
	}

	ref := f.src.Ref
	if ref == "" {
		ref = "HEAD"
	}
	rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", f.src.Owner, f.src.Repo, ref, fullPath)

	return &FetchedDoc{
		Path:    relativePath,
		Content: []byte(content),
		SHA:     fileContent.GetSHA(),
		URL:     rawURL,
	}, nil
}

// Document fetches relativePath and normalizes it. The document id is
// "owner/repo/path" so files from different repositories never collide.
func (f *Fetcher) Document(ctx context.Context, relativePath string) (domain.Document, error) {
	fetched, err := f.FetchDoc(ctx, relativePath)
	if err != nil {
		return domain.Document{}, err
	}
	id := path.Join(f.src.Owner, f.src.Repo, f.src.Path, fetched.Path)
	doc, err := f.normalizer.Document(id, fetched.URL, fetched.Content)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Owner = f.src.Owner
	return doc, nil
}

// FetchAll lists and fetches every markdown document, DefaultFetchConcurrency at a time.
// Files that fail are reported and skipped; the error is non-nil only when
// listing fails or ctx ends.
func (f *Fetcher) FetchAll(ctx context.Context) ([]domain.Document, []FetchFailure, error) {
	paths, err := f.ListDocs(ctx)
	if err != nil {
		return nil, nil, err
	}
	f.logger.Info().Int("count", len(paths)).Str("repo", f.src.Owner+"/"+f.src.Repo).Msg("listed markdown documents")

	docs := make([]domain.Document, len(paths))
	ok := make([]bool, len(paths))
	var (
		mu       sync.Mutex
		failures []FetchFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultFetchConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			doc, err := f.Document(gctx, p)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Warn().Err(err).Str("path", p).Msg("failed to fetch document")
				mu.Lock()
				failures = append(failures, FetchFailure{Path: p, Err: err})
				mu.Unlock()
				return nil
			}
			docs[i] = doc
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failures, err
	}

	out := make([]domain.Document, 0, len(docs))
	for i, d := range docs {
		if ok[i] {
			out = append(out, d)
		}
	}
	return out, failures, nil
}

// GetLatestCommitSHA retrieves the SHA of the most recent commit affecting the source directory
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.src.Owner, f.src.Repo, &github.CommitsListOptions{
		SHA:         f.src.Ref,
		Path:        f.src.Path,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.src.Path)
	}
	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}
	return *commits[0].SHA, nil
}

func (f *Fetcher) refOptions() *github.RepositoryContentGetOptions {
	if f.src.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.src.Ref}
}

func isMarkdown(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".md" || ext == ".markdown"
}
