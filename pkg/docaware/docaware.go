// Package docaware provides document retrieval for document-aware agents:
// a search contract, qdrant-backed vector search with content filters, and
// prompt-ready result formatting.
package docaware

import (
	"context"
	"fmt"
	"strings"
)

// Search methods.
const (
	MethodSemanticSearch = "semantic_search"
	MethodHybridSearch   = "hybrid_search"
)

// DefaultTopK bounds how many retrieved chunks are spliced into prompts.
const DefaultTopK = 5

// SearchRequest describes one document search.
type SearchRequest struct {
	ProjectID string
	Query     string
	Method    string
	// Parameters carries method-specific tuning knobs (score_threshold, ...).
	Parameters map[string]any
	// ContentFilters restricts results: "folder_<path>" matches source prefix,
	// "file_<doc_id>" matches document id exactly; filters combine with OR.
	ContentFilters []string
	// ConversationContext optionally augments the query with recent history.
	ConversationContext string
	TopK                int
}

// Metadata describes where a retrieved chunk came from.
type Metadata struct {
	Source     string  `json:"source"`
	Page       int     `json:"page,omitempty"`
	Score      float64 `json:"score"`
	ChunkType  string  `json:"chunk_type,omitempty"`
	DocumentID string  `json:"document_id,omitempty"`
}

// Result is one retrieved document chunk.
type Result struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Searcher is the document retrieval contract consumed by the engine.
type Searcher interface {
	Search(ctx context.Context, req *SearchRequest) ([]Result, error)
}

// FormatResults renders retrieved chunks as the annotated block spliced into
// agent prompts. At most topK results are included.
func FormatResults(results []Result, topK int) string {
	if len(results) == 0 {
		return ""
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(results) > topK {
		results = results[:topK]
	}

	var b strings.Builder
	b.WriteString("\n=== RETRIEVED DOCUMENTS ===\n")
	for i, r := range results {
		source := r.Metadata.Source
		if source == "" {
			source = "Unknown source"
		}
		fmt.Fprintf(&b, "\nDocument %d (Source: %s, Relevance: %.2f):\n%s\n",
			i+1, source, r.Metadata.Score, truncate(r.Content, 1000))
	}
	b.WriteString("\n=== END RETRIEVED DOCUMENTS ===\n")
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
