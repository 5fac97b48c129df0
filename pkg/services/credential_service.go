package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intellidoc/agentflow/ent"
	"github.com/intellidoc/agentflow/ent/projectcredential"
	"github.com/intellidoc/agentflow/pkg/credentials"
)

// CredentialService stores and resolves per-project encrypted provider API
// keys. It implements credentials.Store.
type CredentialService struct {
	client *ent.Client
	cipher *credentials.Cipher
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(client *ent.Client, cipher *credentials.Cipher) *CredentialService {
	return &CredentialService{client: client, cipher: cipher}
}

// SetAPIKey encrypts and upserts a provider key for a project. Placeholder
// values are rejected before they ever reach storage.
func (s *CredentialService) SetAPIKey(ctx context.Context, projectID, provider, apiKey string) error {
	if projectID == "" {
		return NewValidationError("project_id", "required")
	}
	if provider == "" {
		return NewValidationError("provider", "required")
	}
	if credentials.IsPlaceholder(apiKey) {
		return credentials.ErrPlaceholderKey
	}

	encrypted, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.client.ProjectCredential.Create().
		SetID(uuid.New().String()).
		SetProjectID(projectID).
		SetProvider(provider).
		SetEncryptedKey(encrypted).
		OnConflictColumns(projectcredential.FieldProjectID, projectcredential.FieldProvider).
		UpdateEncryptedKey().
		Exec(writeCtx)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetAPIKey returns the decrypted key for a provider in a project.
func (s *CredentialService) GetAPIKey(ctx context.Context, projectID, provider string) (string, error) {
	row, err := s.client.ProjectCredential.Query().
		Where(
			projectcredential.ProjectIDEQ(projectID),
			projectcredential.ProviderEQ(provider),
		).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return "", credentials.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to query credential: %w", err)
	}

	apiKey, err := s.cipher.Decrypt(row.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential for project %s provider %s: %w",
			projectID, provider, err)
	}
	if credentials.IsPlaceholder(apiKey) {
		return "", credentials.ErrPlaceholderKey
	}
	return apiKey, nil
}
