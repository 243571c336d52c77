// Package memory implements C3, the Memory Retriever: BM25 + embedding
// hybrid search over Typesense fused by reciprocal rank, backed by an
// ArangoDB graph of MemoryNode vertices connected by `references` edges.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"

	"basegraph.app/pandora/internal/model"
)

var ErrNodeNotFound = errors.New("memory node not found")

const (
	nodeCollection      = "memory_nodes"
	referenceCollection = "references"
	graphName           = "memory_graph"
)

// GraphStore is the ArangoDB-backed MemoryNode corpus: the document half of
// C3, giving the "cyclic references... via explicit IDs" property a literal
// graph shape without enabling actual cycles (edges only point to strictly
// older turns).
type GraphStore interface {
	EnsureDatabase(ctx context.Context) error
	EnsureCollections(ctx context.Context) error
	EnsureGraph(ctx context.Context) error

	UpsertNode(ctx context.Context, node model.MemoryNode) error
	GetNode(ctx context.Context, id string) (model.MemoryNode, error)
	AddReference(ctx context.Context, fromID, toID string) error

	// PreviousTurnSummary returns the most recent turn_summary node for a
	// user, the always-include "previous turn" lookup (§4.3).
	PreviousTurnSummary(ctx context.Context, userID string) (*model.MemoryNode, error)
	// Preferences returns all preference-content nodes for a user, the other
	// always-include rule.
	Preferences(ctx context.Context, userID string) ([]model.MemoryNode, error)

	Close() error
}

type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

type arangoStore struct {
	conn   connection.Connection
	client arangodb.Client
	db     arangodb.Database
	cfg    Config
}

func NewGraphStore(ctx context.Context, cfg Config) (GraphStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	return &arangoStore{
		conn:   conn,
		client: arangodb.NewClient(conn),
		cfg:    cfg,
	}, nil
}

func (s *arangoStore) Close() error { return nil }

func (s *arangoStore) EnsureDatabase(ctx context.Context) error {
	start := time.Now()

	exists, err := s.client.DatabaseExists(ctx, s.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}

	if !exists {
		if _, err := s.client.CreateDatabase(ctx, s.cfg.Database, nil); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		slog.InfoContext(ctx, "arangodb database created", "database", s.cfg.Database, "duration_ms", time.Since(start).Milliseconds())
	}

	db, err := s.client.GetDatabase(ctx, s.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	s.db = db
	return nil
}

func (s *arangoStore) EnsureCollections(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized, call EnsureDatabase first")
	}

	if err := s.ensureCollection(ctx, nodeCollection, false); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, referenceCollection, true); err != nil {
		return err
	}

	col, err := s.db.GetCollection(ctx, nodeCollection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", nodeCollection, err)
	}
	if _, isNew, err := col.EnsurePersistentIndex(ctx, []string{"user_id", "content_type"}, &arangodb.CreatePersistentIndexOptions{Name: "idx_user_content_type"}); err != nil {
		return fmt.Errorf("ensure user/content_type index: %w", err)
	} else if isNew {
		slog.InfoContext(ctx, "arangodb index created", "collection", nodeCollection, "index", "idx_user_content_type")
	}

	return nil
}

func (s *arangoStore) ensureCollection(ctx context.Context, name string, isEdge bool) error {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", name, err)
	}
	if exists {
		return nil
	}

	props := &arangodb.CreateCollectionPropertiesV2{}
	colType := arangodb.CollectionTypeDocument
	if isEdge {
		colType = arangodb.CollectionTypeEdge
	}
	props.Type = &colType

	if _, err := s.db.CreateCollectionV2(ctx, name, props); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	slog.InfoContext(ctx, "arangodb collection created", "collection", name, "is_edge", isEdge)
	return nil
}

func (s *arangoStore) EnsureGraph(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized, call EnsureDatabase first")
	}

	exists, err := s.db.GraphExists(ctx, graphName)
	if err != nil {
		return fmt.Errorf("check graph exists: %w", err)
	}
	if exists {
		return nil
	}

	graphDef := &arangodb.GraphDefinition{
		Name: graphName,
		EdgeDefinitions: []arangodb.EdgeDefinition{
			{Collection: referenceCollection, From: []string{nodeCollection}, To: []string{nodeCollection}},
		},
	}
	if _, err := s.db.CreateGraph(ctx, graphName, graphDef, nil); err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	slog.InfoContext(ctx, "arangodb graph created", "graph", graphName)
	return nil
}

func (s *arangoStore) UpsertNode(ctx context.Context, node model.MemoryNode) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	col, err := s.db.GetCollection(ctx, nodeCollection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", nodeCollection, err)
	}

	userID := ""
	if node.SourceID != nil {
		userID = *node.SourceID
	}
	doc := map[string]any{
		"_key":               node.ID,
		"user_id":            userID,
		"path":               node.Path,
		"source_type":        node.SourceType,
		"content_type":       node.ContentType,
		"content":            node.Content,
		"initial_confidence": node.InitialConfidence,
		"created_at":         node.CreatedAt,
		"validation_count":   node.ValidationCount,
		"validation_success": node.ValidationSuccess,
	}

	_, err = col.CreateDocumentWithOptions(ctx, doc, &arangodb.CollectionDocumentCreateOptions{
		OverwriteMode: arangodb.OldNewCollectionDocumentCreateOptionsOverwriteModeUpdate,
	})
	if err != nil {
		return fmt.Errorf("upsert memory node %s: %w", node.ID, err)
	}
	return nil
}

func (s *arangoStore) GetNode(ctx context.Context, id string) (model.MemoryNode, error) {
	if s.db == nil {
		return model.MemoryNode{}, fmt.Errorf("database not initialized")
	}

	col, err := s.db.GetCollection(ctx, nodeCollection, nil)
	if err != nil {
		return model.MemoryNode{}, fmt.Errorf("get collection %s: %w", nodeCollection, err)
	}

	var doc nodeDoc
	_, err = col.ReadDocument(ctx, id, &doc)
	if err != nil {
		return model.MemoryNode{}, ErrNodeNotFound
	}
	return doc.toModel(), nil
}

func (s *arangoStore) AddReference(ctx context.Context, fromID, toID string) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	col, err := s.db.GetCollection(ctx, referenceCollection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", referenceCollection, err)
	}

	doc := map[string]any{
		"_from": fmt.Sprintf("%s/%s", nodeCollection, fromID),
		"_to":   fmt.Sprintf("%s/%s", nodeCollection, toID),
	}
	_, err = col.CreateDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("add reference %s -> %s: %w", fromID, toID, err)
	}
	return nil
}

func (s *arangoStore) PreviousTurnSummary(ctx context.Context, userID string) (*model.MemoryNode, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		FOR n IN memory_nodes
			FILTER n.user_id == @userID AND n.source_type == @sourceType
			SORT n.created_at DESC
			LIMIT 1
			RETURN n
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{"userID": userID, "sourceType": model.NodeSourceTurnSummary},
	})
	if err != nil {
		return nil, fmt.Errorf("query previous turn summary: %w", err)
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, nil
	}
	var doc nodeDoc
	if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
		return nil, fmt.Errorf("read previous turn summary: %w", err)
	}
	node := doc.toModel()
	return &node, nil
}

func (s *arangoStore) Preferences(ctx context.Context, userID string) ([]model.MemoryNode, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		FOR n IN memory_nodes
			FILTER n.user_id == @userID AND n.content_type == @contentType
			SORT n.created_at DESC
			RETURN n
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{"userID": userID, "contentType": model.ContentPreference},
	})
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer cursor.Close()

	var out []model.MemoryNode
	for cursor.HasMore() {
		var doc nodeDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("read preference node: %w", err)
		}
		out = append(out, doc.toModel())
	}
	return out, nil
}

// nodeDoc mirrors the stored document shape; kept separate from model.MemoryNode
// so Arango-specific fields (_key, user_id) don't leak into the domain type.
type nodeDoc struct {
	Key               string            `json:"_key"`
	UserID            string            `json:"user_id"`
	Path              string            `json:"path"`
	SourceType        model.SourceType  `json:"source_type"`
	ContentType       model.ContentType `json:"content_type"`
	Content           string            `json:"content"`
	InitialConfidence float64           `json:"initial_confidence"`
	CreatedAt         time.Time         `json:"created_at"`
	ValidationCount   *int              `json:"validation_count,omitempty"`
	ValidationSuccess *int              `json:"validation_success,omitempty"`
}

func (d nodeDoc) toModel() model.MemoryNode {
	userID := d.UserID
	return model.MemoryNode{
		ID:                d.Key,
		Path:              d.Path,
		SourceType:        d.SourceType,
		ContentType:       d.ContentType,
		Content:           d.Content,
		InitialConfidence: d.InitialConfidence,
		CreatedAt:         d.CreatedAt,
		ValidationCount:   d.ValidationCount,
		ValidationSuccess: d.ValidationSuccess,
		SourceID:          &userID,
	}
}
