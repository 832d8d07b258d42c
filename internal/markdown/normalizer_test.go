package markdown

import (
	"strings"
	"testing"
)

func TestNormalize_HeadingsAndParagraphs(t *testing.T) {
	source := []byte(`# Getting Started

This guide explains **installation** and _setup_.

## Install

Run the [installer](https://example.com/install) first.
Then restart the shell.

## Configure

Edit ` + "`config.yaml`" + `.
`)

	got, err := NewNormalizer().Normalize(source)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got.Title != "Getting Started" {
		t.Errorf("expected title 'Getting Started', got %q", got.Title)
	}

	want := strings.Join([]string{
		"Getting Started",
		"This guide explains installation and setup.",
		"Install",
		"Run the installer first. Then restart the shell.",
		"Configure",
		"Edit config.yaml.",
	}, "\n\n")
	if got.Text != want {
		t.Errorf("unexpected text:\n%s\nwant:\n%s", got.Text, want)
	}
}

func TestNormalize_ListsAndCode(t *testing.T) {
	source := []byte("## Steps\n\n- first step\n- second step\n\n```go\nfmt.Println(\"hi\")\n```\n\n---\n\n<div>html</div>\n\nDone.\n")

	got, err := NewNormalizer().Normalize(source)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got.Title != "Steps" {
		t.Errorf("expected H2 title fallback, got %q", got.Title)
	}

	want := "Steps\n\nfirst step\nsecond step\n\nfmt.Println(\"hi\")\n\nDone."
	if got.Text != want {
		t.Errorf("unexpected text:\n%q\nwant:\n%q", got.Text, want)
	}
}

func TestNormalize_FrontMatterTitleWins(t *testing.T) {
	source := []byte("---\ntitle: Runbook\nweight: 3\n---\n# Heading\n\nBody text.\n")

	got, err := NewNormalizer().Normalize(source)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got.Title != "Runbook" {
		t.Errorf("expected front matter title, got %q", got.Title)
	}
	if strings.Contains(got.Text, "weight") {
		t.Errorf("front matter leaked into text: %q", got.Text)
	}
	if got.Text != "Heading\n\nBody text." {
		t.Errorf("unexpected text: %q", got.Text)
	}
}

func TestNormalize_UnterminatedFrontMatterIsBody(t *testing.T) {
	source := []byte("---\nnot closed\n")

	got, err := NewNormalizer().Normalize(source)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !strings.Contains(got.Text, "not closed") {
		t.Errorf("expected body text to survive, got %q", got.Text)
	}
}

func TestNormalize_Empty(t *testing.T) {
	got, err := NewNormalizer().Normalize(nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got.Title != "" || got.Text != "" {
		t.Errorf("expected empty result, got %+v", got)
	}
}

func TestDocument_TitleFallsBackToFileName(t *testing.T) {
	n := NewNormalizer()

	doc, err := n.Document("docs/ops/restart-guide.md", "https://example.com/restart", []byte("Plain paragraph only.\n"))
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if doc.ID != "docs/ops/restart-guide.md" {
		t.Errorf("unexpected ID %q", doc.ID)
	}
	if doc.Title != "restart-guide" {
		t.Errorf("expected file name title, got %q", doc.Title)
	}
	if doc.Source != "https://example.com/restart" {
		t.Errorf("unexpected source %q", doc.Source)
	}
	if doc.Text != "Plain paragraph only." {
		t.Errorf("unexpected text %q", doc.Text)
	}
}
