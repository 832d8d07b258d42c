package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Server wraps the MCP server with its pipeline.
type Server struct {
	server *mcp.Server
	logger zerolog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(p Pipeline, version string, logger zerolog.Logger) *Server {
	impl := &mcp.Implementation{
		Name:    "docs-rag",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Chunk, embed and index a plain-text document. Returns the ingestion job; poll job_status unless wait is set.",
	}, makeIngestHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query",
		Description: "Answer a question from the indexed documents. The answer cites passages as [n]; citations and passages map markers to chunks.",
	}, makeQueryHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "job_status",
		Description: "Get the state of an ingestion job by id.",
	}, makeJobStatusHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_status",
		Description: "Get vector index health, chunk count, embedding model, cache size and job counts by state.",
	}, makeIndexStatusHandler(p))

	return &Server{server: server, logger: logger}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Msg("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
