package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intellidoc/agentflow/ent"
	"github.com/intellidoc/agentflow/ent/humaninputinteraction"
	"github.com/intellidoc/agentflow/pkg/models"
)

// InteractionService persists human input audit records.
type InteractionService struct {
	client *ent.Client
}

// NewInteractionService creates a new InteractionService.
func NewInteractionService(client *ent.Client) *InteractionService {
	return &InteractionService{client: client}
}

// RecordInteraction stores one human input interaction.
func (s *InteractionService) RecordInteraction(ctx context.Context, interaction *models.HumanInputInteraction) error {
	inputs, err := toJSONSlice(interaction.InputMessages)
	if err != nil {
		return fmt.Errorf("failed to encode input messages: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	builder := s.client.HumanInputInteraction.Create().
		SetID(uuid.New().String()).
		SetExecutionID(interaction.ExecutionID).
		SetAgentName(interaction.AgentName).
		SetAgentID(interaction.AgentID).
		SetInputMessages(inputs).
		SetHumanResponse(interaction.HumanResponse).
		SetAction(interaction.Action).
		SetConversationContext(interaction.ConversationContext).
		SetRespondedAt(interaction.RespondedAt).
		SetInputSourcesCount(interaction.InputSourcesCount).
		SetWorkflowPausedAtSequence(interaction.WorkflowPausedAtSequence)

	if interaction.RequestedAt != nil {
		builder.SetRequestedAt(*interaction.RequestedAt)
	}

	if err := builder.Exec(writeCtx); err != nil {
		return fmt.Errorf("failed to record human input interaction: %w", err)
	}
	return nil
}

// ListInteractions returns the audit trail of one execution, oldest first.
func (s *InteractionService) ListInteractions(ctx context.Context, executionID string) ([]*ent.HumanInputInteraction, error) {
	rows, err := s.client.HumanInputInteraction.Query().
		Where(humaninputinteraction.ExecutionIDEQ(executionID)).
		Order(ent.Asc(humaninputinteraction.FieldRespondedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	return rows, nil
}
