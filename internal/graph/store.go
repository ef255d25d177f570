// Package graph persists the extracted knowledge graph in Neo4j and serves
// the one-hop neighborhood queries used to augment query responses.
//
// Write discipline: entities are MERGEd by their domain key, so concurrent
// ingestion of documents referencing the same entity converges on one node.
// Traversal is bounded to one hop; there are no unbounded graph walks.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// identRe matches safe Cypher identifiers for labels and relationship types.
// Labels cannot be parameterized in Cypher, so extracted type names are
// validated before interpolation.
var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// fallback labels for extracted types that fail identifier validation.
const (
	defaultEntityLabel  = "Entity"
	defaultRelationType = "RELATED_TO"
)

// Store manages knowledge-graph entities and relationships in Neo4j.
// Safe for concurrent use; sessions are per-call.
type Store struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger
}

// New creates a Store over an established Neo4j driver.
// The driver's lifecycle belongs to the caller (see internal/app).
func New(driver neo4j.DriverWithContext, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{driver: driver, logger: logger}
}

// Connect opens a Neo4j driver and verifies connectivity.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}
	return driver, nil
}

// UpsertEntity merges an entity node by key and overlays its properties.
// sourceDoc and page record provenance of the element that produced it.
func (s *Store) UpsertEntity(ctx context.Context, e Entity, sourceDoc string, page int) error {
	if e.Key == "" {
		return fmt.Errorf("entity key cannot be empty")
	}
	label := safeIdent(e.Type, defaultEntityLabel)

	props := make(map[string]any, len(e.Properties)+2)
	for k, v := range e.Properties {
		props[k] = v
	}
	props["source_doc"] = sourceDoc
	props["page"] = page

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()

	query := fmt.Sprintf(`MERGE (n:%s {key: $key}) SET n += $props`, label)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, runErr := tx.Run(ctx, query, map[string]any{"key": e.Key, "props": props})
		return nil, runErr
	})
	if err != nil {
		return fmt.Errorf("upserting entity %q: %w", e.Key, err)
	}
	return nil
}

// UpsertRelationship merges a typed edge between two existing entities.
// Missing endpoints make the MERGE match nothing; that is not an error, the
// edge simply is not created until both entities exist.
func (s *Store) UpsertRelationship(ctx context.Context, r Relationship) error {
	if r.SourceKey == "" || r.TargetKey == "" {
		return fmt.Errorf("relationship endpoints cannot be empty")
	}
	relType := safeIdent(r.Type, defaultRelationType)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()

	query := fmt.Sprintf(`
		MATCH (a {key: $source}), (b {key: $target})
		MERGE (a)-[r:%s]->(b)
		SET r.source_doc = $doc, r.page = $page`, relType)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, runErr := tx.Run(ctx, query, map[string]any{
			"source": r.SourceKey,
			"target": r.TargetKey,
			"doc":    r.SourceDoc,
			"page":   r.Page,
		})
		return nil, runErr
	})
	if err != nil {
		return fmt.Errorf("upserting relationship %s-[%s]->%s: %w", r.SourceKey, relType, r.TargetKey, err)
	}
	return nil
}

// Neighborhood returns entities whose key contains term (case-insensitive)
// together with their one-hop connections. No match yields an empty slice,
// not an error.
func (s *Store) Neighborhood(ctx context.Context, term string, limit int) ([]EntityContext, error) {
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, runErr := tx.Run(ctx, `
			MATCH (n)
			WHERE toLower(n.key) CONTAINS toLower($term)
			OPTIONAL MATCH (n)-[r]-(m)
			RETURN n, collect({relation: type(r), node: m}) AS connections
			LIMIT $limit`,
			map[string]any{"term": term, "limit": limit})
		if runErr != nil {
			return nil, runErr
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("querying neighborhood of %q: %w", term, err)
	}

	recs, ok := records.([]*neo4j.Record)
	if !ok {
		return nil, fmt.Errorf("unexpected neighborhood result type %T", records)
	}

	contexts := make([]EntityContext, 0, len(recs))
	for _, rec := range recs {
		ec, ok := s.recordToContext(rec)
		if !ok {
			continue
		}
		contexts = append(contexts, ec)
	}
	return contexts, nil
}

// recordToContext converts one result record into an EntityContext.
func (s *Store) recordToContext(rec *neo4j.Record) (EntityContext, bool) {
	nodeVal, ok := rec.Get("n")
	if !ok {
		return EntityContext{}, false
	}
	node, ok := nodeVal.(dbtype.Node)
	if !ok {
		return EntityContext{}, false
	}

	ec := EntityContext{Entity: nodeToEntity(node)}

	connsVal, _ := rec.Get("connections")
	conns, _ := connsVal.([]any)
	for _, c := range conns {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		rel, _ := m["relation"].(string)
		target, ok := m["node"].(dbtype.Node)
		if !ok || rel == "" {
			// OPTIONAL MATCH emits a null connection for isolated nodes.
			continue
		}
		ec.Connections = append(ec.Connections, Connection{
			Relation: rel,
			Target:   nodeToEntity(target),
		})
	}
	return ec, true
}

func nodeToEntity(node dbtype.Node) Entity {
	e := Entity{Properties: make(map[string]any, len(node.Props))}
	for k, v := range node.Props {
		if k == "key" {
			if key, ok := v.(string); ok {
				e.Key = key
			}
			continue
		}
		e.Properties[k] = v
	}
	if len(node.Labels) > 0 {
		e.Type = node.Labels[0]
	}
	return e
}

// CountEntities returns the total number of nodes in the graph.
func (s *Store) CountEntities(ctx context.Context) (int64, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()

	count, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, runErr := tx.Run(ctx, `MATCH (n) RETURN count(n) AS count`, nil)
		if runErr != nil {
			return nil, runErr
		}
		rec, singleErr := res.Single(ctx)
		if singleErr != nil {
			return nil, singleErr
		}
		v, _ := rec.Get("count")
		return v, nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting entities: %w", err)
	}
	n, ok := count.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", count)
	}
	return n, nil
}

// Clear removes every node and edge. Used only by the explicit
// database-clear operation of the ingest CLI.
func (s *Store) Clear(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, runErr := tx.Run(ctx, `MATCH (n) DETACH DELETE n`, nil)
		return nil, runErr
	})
	if err != nil {
		return fmt.Errorf("clearing graph: %w", err)
	}
	s.logger.Info("cleared knowledge graph")
	return nil
}

// safeIdent validates an extracted label or relationship type for Cypher
// interpolation, falling back when the model produced something unusable.
func safeIdent(ident, fallback string) string {
	ident = strings.TrimSpace(ident)
	if identRe.MatchString(ident) {
		return ident
	}
	return fallback
}
