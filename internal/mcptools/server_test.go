package mcptools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/straincluster/internal/export"
	"github.com/dusk-indust/straincluster/internal/graph"
	"github.com/dusk-indust/straincluster/internal/metrics"
	"github.com/dusk-indust/straincluster/internal/network"
)

// seededStore holds two strains: a-b-c (cluster 1, reference b) and d-e
// (cluster 2, reference d, e a query).
func seededStore(t *testing.T) graph.Store {
	t.Helper()
	net := network.New([]string{"a", "b", "c", "d", "e"})
	net.AddEdge("a", "b")
	net.AddEdge("b", "c")
	net.AddEdge("d", "e")
	c := network.NewClustering()
	for _, p := range [][2]string{{"a", "1"}, {"b", "1"}, {"c", "1"}, {"d", "2"}, {"e", "2"}} {
		require.NoError(t, c.Add(p[0], p[1]))
	}
	store := graph.NewMemStore()
	require.NoError(t, graph.Persist(context.Background(), store, graph.Run{
		Network:    net,
		Clusters:   c,
		References: []string{"b", "d"},
		Queries:    []string{"e"},
	}))
	return store
}

// setupServerClient wires an MCP server and client together using in-memory
// transports.
func setupServerClient(t *testing.T, summaryPath string) (*mcp.ClientSession, *metrics.Collector) {
	t.Helper()
	m := metrics.NewCollector("test")
	svc := NewRunService(seededStore(t), summaryPath, m)
	server := NewRunMCPServer(svc)

	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session, m
}

// callTool calls a tool and decodes its structured output into out.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any, out any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	if out != nil && !result.IsError {
		require.NotNil(t, result.StructuredContent, "expected structured content from %s", name)
		raw, err := json.Marshal(result.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return result
}

func TestMCPListTools(t *testing.T) {
	session, _ := setupServerClient(t, "")
	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"find_sample", "get_clusters", "get_references", "get_summary"}, names)
}

func TestMCPGetSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_summary.json")
	sum := export.NewRunSummary("run", "fit")
	sum.Network = &network.Summary{Samples: 5, Edges: 3, Components: 2}
	require.NoError(t, export.Write(path, sum))

	session, _ := setupServerClient(t, path)
	var out GetSummaryOutput
	result := callTool(t, session, "get_summary", GetSummaryInput{}, &out)
	require.False(t, result.IsError)
	assert.Equal(t, graph.GraphStats{SampleCount: 5, ReferenceCount: 2, ClusterCount: 2, EdgeCount: 3}, out.Stats)
	require.NotNil(t, out.Summary)
	assert.Equal(t, "fit", out.Summary.Mode)
	assert.Equal(t, 2, out.Summary.Network.Components)
}

func TestMCPGetSummary_NoSummaryFile(t *testing.T) {
	session, _ := setupServerClient(t, filepath.Join(t.TempDir(), "missing.json"))
	var out GetSummaryOutput
	result := callTool(t, session, "get_summary", GetSummaryInput{}, &out)
	require.False(t, result.IsError)
	assert.Nil(t, out.Summary)
	assert.Equal(t, 5, out.Stats.SampleCount)
}

func TestMCPGetClusters(t *testing.T) {
	session, _ := setupServerClient(t, "")

	var out GetClustersOutput
	callTool(t, session, "get_clusters", GetClustersInput{WithMembers: true}, &out)
	require.Len(t, out.Clusters, 2)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, "1", out.Clusters[0].Name)
	assert.Equal(t, []string{"a", "b", "c"}, out.Clusters[0].Members)

	out = GetClustersOutput{}
	callTool(t, session, "get_clusters", GetClustersInput{MinSize: 3}, &out)
	require.Len(t, out.Clusters, 1)
	assert.Empty(t, out.Clusters[0].Members)

	out = GetClustersOutput{}
	callTool(t, session, "get_clusters", GetClustersInput{Limit: 1}, &out)
	assert.Len(t, out.Clusters, 1)
	assert.Equal(t, 2, out.Total)
}

func TestMCPGetReferences(t *testing.T) {
	session, _ := setupServerClient(t, "")

	var out GetReferencesOutput
	callTool(t, session, "get_references", GetReferencesInput{}, &out)
	assert.Len(t, out.References, 2)

	out = GetReferencesOutput{}
	callTool(t, session, "get_references", GetReferencesInput{Cluster: "2"}, &out)
	require.Len(t, out.References, 1)
	assert.Equal(t, "d", out.References[0].Name)
}

func TestMCPFindSample(t *testing.T) {
	session, m := setupServerClient(t, "")

	var out FindSampleOutput
	callTool(t, session, "find_sample", FindSampleInput{Name: "a", MaxDepth: 2}, &out)
	require.Len(t, out.Samples, 1)
	assert.Equal(t, "1", out.Samples[0].Cluster)
	assert.Equal(t, []graph.Neighbour{{Name: "b", Depth: 1}, {Name: "c", Depth: 2}}, out.Neighbours)

	out = FindSampleOutput{}
	callTool(t, session, "find_sample", FindSampleInput{Name: "e"}, &out)
	assert.True(t, out.Samples[0].Query)

	result := callTool(t, session, "find_sample", FindSampleInput{Name: "zz"}, nil)
	assert.True(t, result.IsError)

	result = callTool(t, session, "find_sample", FindSampleInput{}, nil)
	assert.True(t, result.IsError)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `tool="find_sample"`)
}

func TestMCPCallUnknownTool(t *testing.T) {
	session, _ := setupServerClient(t, "")
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "nonexistent_tool",
		Arguments: map[string]any{},
	})
	// The SDK may fail at the protocol level or set IsError.
	if err != nil {
		return
	}
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestRouter(t *testing.T) {
	m := metrics.NewCollector("test")
	server := NewRunMCPServer(NewRunService(seededStore(t), "", m))
	ts := httptest.NewServer(NewRouter(server, m))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	transport := &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}
	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	var out GetClustersOutput
	callTool(t, session, "get_clusters", GetClustersInput{}, &out)
	assert.Equal(t, 2, out.Total)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tool="get_clusters"`)
}
