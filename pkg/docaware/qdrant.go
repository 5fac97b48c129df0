package docaware

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection settings for the vector store.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	APIKey           string `yaml:"api_key,omitempty"`
	UseTLS           bool   `yaml:"use_tls,omitempty"`
	CollectionPrefix string `yaml:"collection_prefix,omitempty"`
}

// QdrantSearcher implements Searcher over a qdrant vector store. Each
// project's documents live in their own collection.
type QdrantSearcher struct {
	client   *qdrant.Client
	embedder Embedder
	prefix   string
}

// NewQdrantSearcher connects to qdrant and wires the query embedder.
func NewQdrantSearcher(cfg QdrantConfig, embedder Embedder) (*QdrantSearcher, error) {
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "project"
	}
	return &QdrantSearcher{client: client, embedder: embedder, prefix: prefix}, nil
}

// Close releases the underlying connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}

// Search embeds the query (optionally augmented with conversation context)
// and runs a filtered vector search against the project collection.
func (s *QdrantSearcher) Search(ctx context.Context, req *SearchRequest) ([]Result, error) {
	query := req.Query
	if req.ConversationContext != "" {
		query = req.ConversationContext + "\n\n" + query
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	limit := uint64(topK)

	filters := ParseContentFilters(req.ContentFilters)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionFor(req.ProjectID),
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		Filter:         buildFilter(filters),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, hit := range points {
		r := Result{Metadata: Metadata{Score: float64(hit.Score)}}
		if hit.Payload != nil {
			r.Content = hit.Payload["content"].GetStringValue()
			r.Metadata.Source = hit.Payload["source"].GetStringValue()
			r.Metadata.Page = int(hit.Payload["page"].GetIntegerValue())
			r.Metadata.ChunkType = hit.Payload["chunk_type"].GetStringValue()
			r.Metadata.DocumentID = hit.Payload["document_id"].GetStringValue()
		}
		// Qdrant's text match is token-based; re-check folder prefixes locally.
		if !Matches(filters, r.Metadata) {
			continue
		}
		if threshold, ok := scoreThreshold(req.Parameters); ok && r.Metadata.Score < threshold {
			continue
		}
		results = append(results, r)
	}

	slog.Debug("Document search complete",
		"project_id", req.ProjectID, "method", req.Method, "hits", len(results))
	return results, nil
}

func (s *QdrantSearcher) collectionFor(projectID string) string {
	sanitized := strings.ReplaceAll(projectID, "-", "_")
	return fmt.Sprintf("%s_%s_docs", s.prefix, sanitized)
}

// buildFilter translates content filters to a qdrant OR filter. Folder
// prefixes use full-text match as a coarse pre-filter; exact precision is
// enforced locally by Matches.
func buildFilter(filters []ContentFilter) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	should := make([]*qdrant.Condition, 0, len(filters))
	for _, f := range filters {
		switch f.Kind {
		case "folder":
			should = append(should, qdrant.NewMatchText("source", f.Value))
		case "file":
			should = append(should, qdrant.NewMatch("document_id", f.Value))
		}
	}
	return &qdrant.Filter{Should: should}
}

func scoreThreshold(params map[string]any) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params["score_threshold"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
