package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/intellidoc/agentflow/pkg/credentials"
)

// ProviderFactory resolves an LLM client for an agent's provider/model
// configuration using project-scoped credentials.
type ProviderFactory interface {
	ProviderFor(ctx context.Context, projectID, provider, model string) (Client, error)
}

// Factory is the credential-backed ProviderFactory. Clients are constructed
// per call — they are stateless and never shared across executions.
type Factory struct {
	creds credentials.Store
}

// NewFactory creates a provider factory over a credential store.
func NewFactory(creds credentials.Store) *Factory {
	return &Factory{creds: creds}
}

// ProviderFor returns a client for the given provider type and model.
// Missing or placeholder project keys fail fast — there is no environment
// variable fallback.
func (f *Factory) ProviderFor(ctx context.Context, projectID, provider, model string) (Client, error) {
	normalized := normalizeProvider(provider)
	if normalized == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	apiKey, err := f.creds.GetAPIKey(ctx, projectID, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %s for project %s: %v", ErrMissingAPIKey, normalized, projectID, err)
	}
	if credentials.IsPlaceholder(apiKey) {
		return nil, fmt.Errorf("%w: %s key for project %s is a placeholder", ErrMissingAPIKey, normalized, projectID)
	}

	slog.Debug("Resolved LLM provider", "provider", normalized, "model", model, "project_id", projectID)

	switch normalized {
	case "openai":
		return NewOpenAIClient(apiKey, model), nil
	case "anthropic":
		return NewAnthropicClient(apiKey, model), nil
	case "google":
		return NewGeminiClient(apiKey, model), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// normalizeProvider maps provider aliases to canonical names.
func normalizeProvider(provider string) string {
	switch provider {
	case "openai", "":
		return "openai"
	case "anthropic", "claude":
		return "anthropic"
	case "google", "gemini":
		return "google"
	default:
		return ""
	}
}
