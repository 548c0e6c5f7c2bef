package mcptools

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	"github.com/dusk-indust/straincluster/internal/metrics"
)

// version is set by the linker at build time.
var version = "dev"

// NewRunMCPServer creates an MCP server with the run query tools registered.
func NewRunMCPServer(svc *RunService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "straincluster",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_summary",
		Description: "Summarise the stored run: sample, reference, cluster and edge counts, plus the network statistics and model of the run when its summary file is present.",
	}, svc.GetSummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_clusters",
		Description: "List strain clusters, largest first, with their size and cohesion. Optionally include member names.",
	}, svc.GetClusters)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_references",
		Description: "List the reference samples chosen to represent every cluster, optionally for one cluster.",
	}, svc.GetReferences)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_sample",
		Description: "Look up a sample by name or name prefix. An exact match returns its cluster and the samples linked to it within a number of hops.",
	}, svc.FindSample)

	return server
}

// RunStdio runs the MCP server on stdio, blocking until stdin is closed or
// the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// NewRouter mounts the streamable HTTP MCP endpoint at /mcp, Prometheus
// metrics at /metrics and a liveness probe at /healthz.
func NewRouter(server *mcp.Server, m *metrics.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
	r.Handle("/mcp", handler)
	r.Handle("/mcp/*", handler)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "mcptools: serve")
	}
	return nil
}
