package credentials

import (
	"context"
	"strings"
)

// Store resolves decrypted provider API keys per project. Implementations
// are read-only for the lifetime of a workflow execution.
type Store interface {
	// GetAPIKey returns the decrypted API key for a provider in a project.
	// Returns ErrKeyNotFound when no key is configured and ErrPlaceholderKey
	// when the stored value is an obvious placeholder.
	GetAPIKey(ctx context.Context, projectID, provider string) (string, error)
}

// placeholder markers rejected during key validation.
var placeholderMarkers = []string{"your_", "placeholder", "replace", "example", "dummy"}

// IsPlaceholder reports whether an API key looks like a placeholder or dummy
// value rather than a real credential.
func IsPlaceholder(key string) bool {
	trimmed := strings.TrimSpace(key)
	if len(trimmed) < 10 {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
