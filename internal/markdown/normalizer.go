// Package markdown turns markdown sources into plain-text documents for ingestion.
package markdown

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
	"gopkg.in/yaml.v3"

	"github.com/bull/docs-rag/internal/domain"
)

// Normalized is the plain-text rendition of a markdown source.
type Normalized struct {
	Title string // Front matter title, else the first top-level heading
	Text  string // Blocks separated by blank lines
}

type frontMatter struct {
	Title string `yaml:"title"`
}

// Normalizer strips markdown syntax while keeping block structure.
type Normalizer struct {
	parser goldmark.Markdown
}

// NewNormalizer creates a normalizer configured with the goldmark parser.
func NewNormalizer() *Normalizer {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Normalizer{parser: md}
}

// Normalize parses source and renders every block as a plain-text paragraph.
// Headings, list items and code blocks keep their text; HTML and rules are dropped.
func (n *Normalizer) Normalize(source []byte) (Normalized, error) {
	fm, body := splitFrontMatter(source)

	doc := n.parser.Parser().Parse(text.NewReader(body))

	title := strings.TrimSpace(fm.Title)
	if title == "" {
		tree, err := toc.Inspect(doc, body,
			toc.MinDepth(1),
			toc.MaxDepth(2),
			toc.Compact(true),
		)
		if err != nil {
			return Normalized{}, fmt.Errorf("inspect TOC: %w", err)
		}
		if len(tree.Items) > 0 {
			title = strings.TrimSpace(string(tree.Items[0].Title))
		}
	}

	var blocks []string
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		blocks = appendBlock(blocks, child, body)
	}

	return Normalized{Title: title, Text: strings.Join(blocks, "\n\n")}, nil
}

// Document normalizes source into a document identified by its repository path.
// The file name stands in for a missing title.
func (n *Normalizer) Document(docPath, sourceURL string, source []byte) (domain.Document, error) {
	norm, err := n.Normalize(source)
	if err != nil {
		return domain.Document{}, fmt.Errorf("normalize %s: %w", docPath, err)
	}
	title := norm.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(docPath), path.Ext(docPath))
	}
	return domain.Document{
		ID:     docPath,
		Title:  title,
		Source: sourceURL,
		Text:   norm.Text,
	}, nil
}

func appendBlock(blocks []string, node ast.Node, source []byte) []string {
	switch node.Kind() {
	case ast.KindHeading, ast.KindParagraph, ast.KindTextBlock:
		if s := strings.TrimSpace(inlineText(node, source)); s != "" {
			blocks = append(blocks, s)
		}
	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		if s := strings.TrimSpace(string(rawLines(node, source))); s != "" {
			blocks = append(blocks, s)
		}
	case ast.KindList:
		var items []string
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			var parts []string
			for c := item.FirstChild(); c != nil; c = c.NextSibling() {
				parts = appendBlock(parts, c, source)
			}
			if len(parts) > 0 {
				items = append(items, strings.Join(parts, " "))
			}
		}
		if len(items) > 0 {
			blocks = append(blocks, strings.Join(items, "\n"))
		}
	case ast.KindHTMLBlock, ast.KindThematicBreak:
	default:
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			blocks = appendBlock(blocks, c, source)
		}
	}
	return blocks
}

// inlineText concatenates the text leaves under node.
func inlineText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.URL(source))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func rawLines(node ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.Bytes()
}

// splitFrontMatter separates a leading YAML front matter block from the body.
// Unparseable front matter is dropped.
func splitFrontMatter(source []byte) (frontMatter, []byte) {
	var fm frontMatter
	src := bytes.ReplaceAll(source, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(src, []byte("---\n")) {
		return fm, source
	}
	rest := src[len("---\n"):]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return fm, source
	}
	_ = yaml.Unmarshal(rest[:end], &fm)

	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return fm, body
}
