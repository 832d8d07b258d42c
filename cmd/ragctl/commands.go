package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docs-rag/internal/app"
	"github.com/bull/docs-rag/internal/domain"
	ghclient "github.com/bull/docs-rag/internal/github"
	"github.com/bull/docs-rag/internal/loader"
	"github.com/bull/docs-rag/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Ingest text or markdown files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var ingestDirCmd = &cobra.Command{
	Use:   "ingest-dir DIR",
	Short: "Ingest every text and markdown file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestDir,
}

var syncGitHubCmd = &cobra.Command{
	Use:   "sync-github",
	Short: "Ingest the markdown documents of a GitHub repository directory",
	Long: `Fetches every markdown file under --github-path of
--github-owner/--github-repo at --github-ref and ingests it.
Documents are re-indexed in place; chunks left over from longer
previous versions are pruned. --rebuild empties the index first.`,
	RunE: runSyncGitHub,
}

var queryCmd = &cobra.Command{
	Use:   "query QUESTION",
	Short: "Answer a question from the indexed documents",
	Long: `Embeds the question, retrieves the nearest chunks, assembles them
into a numbered context and asks the generator for an answer citing
them. With the in-memory index, use --load to ingest a directory first.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index health and counters",
	RunE:  runStatus,
}

func init() {
	ingestCmd.Flags().String("owner", "", "Owner recorded on every document")
	ingestDirCmd.Flags().String("owner", "", "Owner recorded on every document")
	ingestDirCmd.Flags().Bool("rebuild", false, "Empty the index before ingesting")
	syncGitHubCmd.Flags().Bool("rebuild", false, "Empty the index before ingesting")

	queryCmd.Flags().String("load", "", "Directory to ingest before answering")
	queryCmd.Flags().String("owner", "", "Only retrieve chunks of this owner")
	queryCmd.Flags().StringSlice("doc", nil, "Only retrieve chunks of these document ids")
	queryCmd.Flags().String("instructions", "", "System instructions replacing the default")
	queryCmd.Flags().Bool("json", false, "Print the full result as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, _ := cmd.Flags().GetString("owner")
	l := loader.New(".", owner, a.Logger)

	docs := make([]domain.Document, 0, len(args))
	for _, p := range args {
		doc, err := l.LoadFile(filepath.Clean(p))
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	return ingest(cmd, a, docs)
}

func runIngestDir(cmd *cobra.Command, args []string) error {
	a, err := open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, _ := cmd.Flags().GetString("owner")
	docs, err := loader.New(args[0], owner, a.Logger).Load(cmd.Context())
	if err != nil {
		return err
	}
	return ingest(cmd, a, docs)
}

func runSyncGitHub(cmd *cobra.Command, args []string) error {
	a, err := open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	gh := a.Config.GitHub
	if gh.Owner == "" || gh.Repo == "" {
		return fmt.Errorf("%w: --github-owner and --github-repo are required", domain.ErrInvalidInput)
	}
	fetcher, err := a.GitHubFetcher(ghclient.Source{Owner: gh.Owner, Repo: gh.Repo, Path: gh.Path, Ref: gh.Ref})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sha, err := fetcher.GetLatestCommitSHA(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Fetching %s/%s/%s at %s...\n", gh.Owner, gh.Repo, gh.Path, shortSHA(sha))

	docs, failures, err := fetcher.FetchAll(cmd.Context())
	if err != nil {
		return err
	}
	for _, f := range failures {
		fmt.Fprintf(out, "  skipped %s: %v\n", f.Path, f.Err)
	}
	return ingest(cmd, a, docs)
}

func ingest(cmd *cobra.Command, a *app.App, docs []domain.Document) error {
	out := cmd.OutOrStdout()

	var result *pipeline.BatchResult
	if rebuild, _ := cmd.Flags().GetBool("rebuild"); rebuild {
		fmt.Fprintf(out, "Rebuilding index from %d documents...\n", len(docs))
		var err error
		if result, err = a.Coordinator.Rebuild(cmd.Context(), docs); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Ingesting %d documents...\n", len(docs))
		result = a.Coordinator.IngestAll(cmd.Context(), docs)
	}
	printBatch(out, result)
	if result.TotalDocs > 0 && result.SuccessfulDocs == 0 {
		return fmt.Errorf("no document was ingested")
	}
	return nil
}

func printBatch(out io.Writer, result *pipeline.BatchResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Ingestion complete!")
	fmt.Fprintf(out, "  Documents: %d/%d (%d partial)\n", result.SuccessfulDocs, result.TotalDocs, result.PartialDocs)
	fmt.Fprintf(out, "  Chunks: %d\n", result.TotalChunks)
	fmt.Fprintf(out, "  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.FailedDocs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Fprintf(out, "  - %s: %s\n", failed.DocumentID, failed.Reason)
		}
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	flags := cmd.Flags()
	if dir, _ := flags.GetString("load"); dir != "" {
		docs, err := loader.New(dir, "", a.Logger).Load(cmd.Context())
		if err != nil {
			return err
		}
		a.Coordinator.IngestAll(cmd.Context(), docs)
	}

	owner, _ := flags.GetString("owner")
	docIDs, _ := flags.GetStringSlice("doc")
	instructions, _ := flags.GetString("instructions")
	asJSON, _ := flags.GetBool("json")

	res, err := a.Coordinator.Query(cmd.Context(), pipeline.QueryRequest{
		Text:         args[0],
		Filters:      domain.Filters{Owner: owner, DocumentIDs: docIDs},
		Instructions: instructions,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printAnswer(out, res)
	return nil
}

func printAnswer(out io.Writer, res *pipeline.QueryResult) {
	fmt.Fprintln(out, res.Answer.Answer)

	if len(res.Answer.Citations) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, c := range res.Answer.Citations {
			switch c := c.(type) {
			case domain.MappedCitation:
				fmt.Fprintf(out, "  [%d] %s (%s)\n", c.Marker, c.DocumentID, c.ChunkID)
			case domain.UnmappedCitation:
				fmt.Fprintf(out, "  [%d] (no such passage)\n", c.Marker)
			}
		}
	}
	for _, w := range res.Answer.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Coordinator.Status(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
