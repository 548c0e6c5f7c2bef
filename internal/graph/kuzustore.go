//go:build cgo

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kuzu "github.com/kuzudb/go-kuzu"
	"github.com/pkg/errors"
)

// KuzuStore implements Store on KuzuDB. It requires CGO because the go-kuzu
// driver wraps KuzuDB's C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a database directory at
// dbPath. KuzuDB creates the leaf directory itself for new databases.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "kuzu: create parent directory")
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "kuzu: open database %s", path)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "kuzu: open connection")
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Sample(
		name STRING,
		cluster STRING,
		is_reference BOOLEAN,
		is_query BOOLEAN,
		PRIMARY KEY(name)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Cluster(
		name STRING,
		size INT64,
		cohesion DOUBLE,
		PRIMARY KEY(name)
	)`,
	`CREATE REL TABLE IF NOT EXISTS WITHIN(FROM Sample TO Sample, weight DOUBLE)`,
	`CREATE REL TABLE IF NOT EXISTS BELONGS_TO(FROM Sample TO Cluster)`,
}

// InitSchema creates all node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return errors.Wrap(err, "kuzu: init schema")
		}
		res.Close()
	}
	return nil
}

// ---------- Write operations ----------

// AddSample inserts or replaces a Sample node.
func (s *KuzuStore) AddSample(_ context.Context, node SampleNode) error {
	return s.exec(
		`MERGE (s:Sample {name: $name})
		SET s.cluster = $cluster, s.is_reference = $ref, s.is_query = $qry`,
		map[string]any{
			"name":    node.Name,
			"cluster": node.Cluster,
			"ref":     node.Reference,
			"qry":     node.Query,
		},
	)
}

// AddEdge creates a WITHIN relationship from the lesser to the greater name.
func (s *KuzuStore) AddEdge(ctx context.Context, edge Edge) error {
	edge = canonical(edge)
	for _, name := range []string{edge.Source, edge.Target} {
		if _, err := s.GetSample(ctx, name); err != nil {
			return errors.Wrapf(err, "edge %s-%s", edge.Source, edge.Target)
		}
	}
	return s.exec(
		`MATCH (a:Sample {name: $src}), (b:Sample {name: $tgt})
		MERGE (a)-[r:WITHIN]->(b)
		SET r.weight = $weight`,
		map[string]any{"src": edge.Source, "tgt": edge.Target, "weight": edge.Weight},
	)
}

// AddCluster creates a Cluster node and a BELONGS_TO edge per member.
func (s *KuzuStore) AddCluster(ctx context.Context, node ClusterNode) error {
	err := s.exec(
		"MERGE (c:Cluster {name: $name}) SET c.size = $size, c.cohesion = $cohesion",
		map[string]any{
			"name":     node.Name,
			"size":     int64(node.Size),
			"cohesion": node.Cohesion,
		},
	)
	if err != nil {
		return err
	}
	for _, m := range node.Members {
		if _, err := s.GetSample(ctx, m); err != nil {
			return errors.Wrapf(err, "cluster %s member", node.Name)
		}
		err := s.exec(
			`MATCH (a:Sample {name: $sample}), (c:Cluster {name: $cluster})
			SET a.cluster = $cluster
			MERGE (a)-[:BELONGS_TO]->(c)`,
			map[string]any{"sample": m, "cluster": node.Name},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ---------- Read operations ----------

const sampleColumns = "s.name, s.cluster, s.is_reference, s.is_query"

// GetSample returns the named sample or ErrNotFound.
func (s *KuzuStore) GetSample(_ context.Context, name string) (*SampleNode, error) {
	rows, err := s.query(
		"MATCH (s:Sample {name: $name}) RETURN "+sampleColumns,
		map[string]any{"name": name},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "sample %s", name)
	}
	node := rowToSample(rows[0])
	return &node, nil
}

// QuerySamples builds a filtered MATCH. Results are ordered by name.
func (s *KuzuStore) QuerySamples(_ context.Context, filter SampleFilter) ([]SampleNode, error) {
	var where []string
	params := map[string]any{}
	if filter.Cluster != "" {
		where = append(where, "s.cluster = $cluster")
		params["cluster"] = filter.Cluster
	}
	if filter.Prefix != "" {
		where = append(where, "starts_with(s.name, $prefix)")
		params["prefix"] = filter.Prefix
	}
	if filter.ReferencesOnly {
		where = append(where, "s.is_reference = true")
	}
	if filter.QueriesOnly {
		where = append(where, "s.is_query = true")
	}
	cypher := "MATCH (s:Sample)"
	if len(where) > 0 {
		cypher += " WHERE " + strings.Join(where, " AND ")
	}
	cypher += " RETURN " + sampleColumns + " ORDER BY s.name"
	if filter.Limit > 0 {
		cypher += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.query(cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]SampleNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToSample(r))
	}
	return out, nil
}

// GetNeighbourhood performs a BFS over WITHIN edges in both directions.
func (s *KuzuStore) GetNeighbourhood(ctx context.Context, name string, maxDepth int) ([]Neighbour, error) {
	if _, err := s.GetSample(ctx, name); err != nil {
		return nil, err
	}
	var qerr error
	out := bfs(name, maxDepth, func(n string) []string {
		if qerr != nil {
			return nil
		}
		rows, err := s.query(
			"MATCH (a:Sample {name: $name})-[:WITHIN]-(b:Sample) RETURN DISTINCT b.name ORDER BY b.name",
			map[string]any{"name": n},
		)
		if err != nil {
			qerr = err
			return nil
		}
		next := make([]string, 0, len(rows))
		for _, r := range rows {
			next = append(next, toString(r[0]))
		}
		return next
	})
	if qerr != nil {
		return nil, qerr
	}
	return out, nil
}

// GetSamples returns all samples ordered by name.
func (s *KuzuStore) GetSamples(ctx context.Context) ([]SampleNode, error) {
	return s.QuerySamples(ctx, SampleFilter{})
}

// GetClusters returns all Cluster nodes with their members.
func (s *KuzuStore) GetClusters(_ context.Context) ([]ClusterNode, error) {
	rows, err := s.query("MATCH (c:Cluster) RETURN c.name, c.size, c.cohesion ORDER BY c.name", nil)
	if err != nil {
		return nil, err
	}
	out := make([]ClusterNode, 0, len(rows))
	for _, r := range rows {
		name := toString(r[0])
		memberRows, err := s.query(
			"MATCH (s:Sample)-[:BELONGS_TO]->(c:Cluster {name: $name}) RETURN s.name ORDER BY s.name",
			map[string]any{"name": name},
		)
		if err != nil {
			return nil, err
		}
		members := make([]string, 0, len(memberRows))
		for _, mr := range memberRows {
			members = append(members, toString(mr[0]))
		}
		out = append(out, ClusterNode{
			Name:     name,
			Size:     toInt(r[1]),
			Cohesion: toFloat64(r[2]),
			Members:  members,
		})
	}
	return out, nil
}

// GetAllEdges returns every WITHIN relationship.
func (s *KuzuStore) GetAllEdges(_ context.Context) ([]Edge, error) {
	rows, err := s.query("MATCH (a:Sample)-[r:WITHIN]->(b:Sample) RETURN a.name, b.name, r.weight", nil)
	if err != nil {
		return nil, err
	}
	edges := make([]Edge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, Edge{
			Source: toString(r[0]),
			Target: toString(r[1]),
			Weight: toFloat64(r[2]),
		})
	}
	return edges, nil
}

// ---------- Stats ----------

// Stats returns counts of samples, references, clusters and WITHIN edges.
func (s *KuzuStore) Stats(_ context.Context) (*GraphStats, error) {
	samples, err := s.count("MATCH (n:Sample) RETURN count(n)")
	if err != nil {
		return nil, err
	}
	refs, err := s.count("MATCH (n:Sample) WHERE n.is_reference = true RETURN count(n)")
	if err != nil {
		return nil, err
	}
	clusters, err := s.count("MATCH (n:Cluster) RETURN count(n)")
	if err != nil {
		return nil, err
	}
	edges, err := s.count("MATCH ()-[r:WITHIN]->() RETURN count(r)")
	if err != nil {
		return nil, err
	}
	return &GraphStats{
		SampleCount:    samples,
		ReferenceCount: refs,
		ClusterCount:   clusters,
		EdgeCount:      edges,
	}, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return errors.Wrap(err, "kuzu: prepare")
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return errors.Wrap(err, "kuzu: execute")
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, errors.Wrap(err, "kuzu: prepare")
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, errors.Wrap(err, "kuzu: query")
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, errors.Wrap(err, "kuzu: next")
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, errors.Wrap(err, "kuzu: row values")
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func (s *KuzuStore) count(cypher string) (int, error) {
	rows, err := s.query(cypher, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// rowToSample converts a result row in sampleColumns order.
func rowToSample(r []any) SampleNode {
	return SampleNode{
		Name:      toString(r[0]),
		Cluster:   toString(r[1]),
		Reference: toBool(r[2]),
		Query:     toBool(r[3]),
	}
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, float64, bool, string).

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
