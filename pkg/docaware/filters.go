package docaware

import "strings"

// Content filter prefixes.
const (
	filterPrefixFolder = "folder_"
	filterPrefixFile   = "file_"
)

// ContentFilter is a parsed content filter term.
type ContentFilter struct {
	// Kind is "folder" or "file".
	Kind  string
	Value string
}

// ParseContentFilters parses raw filter strings, dropping unrecognized terms.
func ParseContentFilters(raw []string) []ContentFilter {
	var filters []ContentFilter
	for _, f := range raw {
		switch {
		case strings.HasPrefix(f, filterPrefixFolder):
			filters = append(filters, ContentFilter{Kind: "folder", Value: strings.TrimPrefix(f, filterPrefixFolder)})
		case strings.HasPrefix(f, filterPrefixFile):
			filters = append(filters, ContentFilter{Kind: "file", Value: strings.TrimPrefix(f, filterPrefixFile)})
		}
	}
	return filters
}

// Matches reports whether a result passes the filter set. Filters combine
// with OR; an empty set matches everything. Folder filters prefix-match the
// source path, file filters match the document id exactly.
func Matches(filters []ContentFilter, meta Metadata) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		switch f.Kind {
		case "folder":
			if strings.HasPrefix(meta.Source, f.Value) {
				return true
			}
		case "file":
			if meta.DocumentID == f.Value {
				return true
			}
		}
	}
	return false
}
