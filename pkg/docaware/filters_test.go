package docaware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentFilters(t *testing.T) {
	filters := ParseContentFilters([]string{
		"folder_reports/2024",
		"file_doc-123",
		"unknown_thing",
	})

	require.Len(t, filters, 2)
	assert.Equal(t, ContentFilter{Kind: "folder", Value: "reports/2024"}, filters[0])
	assert.Equal(t, ContentFilter{Kind: "file", Value: "doc-123"}, filters[1])
}

func TestMatches_FolderPrefix(t *testing.T) {
	filters := ParseContentFilters([]string{"folder_reports/2024"})

	assert.True(t, Matches(filters, Metadata{Source: "reports/2024/q4.pdf"}))
	assert.False(t, Matches(filters, Metadata{Source: "archive/reports/2024/q4.pdf"}))
}

func TestMatches_FileExact(t *testing.T) {
	filters := ParseContentFilters([]string{"file_doc-123"})

	assert.True(t, Matches(filters, Metadata{DocumentID: "doc-123"}))
	assert.False(t, Matches(filters, Metadata{DocumentID: "doc-1234"}))
}

func TestMatches_CombinedOR(t *testing.T) {
	filters := ParseContentFilters([]string{"folder_reports", "file_doc-9"})

	assert.True(t, Matches(filters, Metadata{Source: "reports/a.pdf"}))
	assert.True(t, Matches(filters, Metadata{Source: "other/b.pdf", DocumentID: "doc-9"}))
	assert.False(t, Matches(filters, Metadata{Source: "other/b.pdf", DocumentID: "doc-10"}))
}

func TestMatches_EmptyFilterSetMatchesAll(t *testing.T) {
	assert.True(t, Matches(nil, Metadata{Source: "anything"}))
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{Content: "first chunk", Metadata: Metadata{Source: "reports/q4.pdf", Score: 0.91}},
		{Content: "second chunk", Metadata: Metadata{Score: 0.72}},
	}

	formatted := FormatResults(results, 5)
	assert.Contains(t, formatted, "=== RETRIEVED DOCUMENTS ===")
	assert.Contains(t, formatted, "Document 1 (Source: reports/q4.pdf, Relevance: 0.91)")
	assert.Contains(t, formatted, "Document 2 (Source: Unknown source, Relevance: 0.72)")
	assert.Contains(t, formatted, "=== END RETRIEVED DOCUMENTS ===")
}

func TestFormatResults_TopKAndTruncation(t *testing.T) {
	results := []Result{
		{Content: strings.Repeat("x", 2000), Metadata: Metadata{Source: "a"}},
		{Content: "b", Metadata: Metadata{Source: "b"}},
		{Content: "c", Metadata: Metadata{Source: "c"}},
	}

	formatted := FormatResults(results, 2)
	assert.Contains(t, formatted, "Document 1")
	assert.Contains(t, formatted, "Document 2")
	assert.NotContains(t, formatted, "Document 3")
	// Chunk content is capped at 1000 characters.
	assert.NotContains(t, formatted, strings.Repeat("x", 1001))
}

func TestFormatResults_Empty(t *testing.T) {
	assert.Equal(t, "", FormatResults(nil, 5))
}
