package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
)

// scriptedClient returns canned responses (or errors) in order.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (c *scriptedClient) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	idx := c.calls
	c.calls++
	c.prompts = append(c.prompts, req.Prompt)
	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	if idx < len(c.responses) {
		return &llm.GenerateResponse{Text: c.responses[idx]}, nil
	}
	return &llm.GenerateResponse{Text: ""}, nil
}

var testDelegates = map[string]string{
	"Financial Analyst": "Analyzes financial data",
	"Report Writer":     "Writes summary reports",
}

func TestSplitQuery_ValidArray(t *testing.T) {
	client := &scriptedClient{responses: []string{`[
		{"query": "Analyze the financial data for Q4", "priority": "high", "dependencies": [], "suggested_delegates": ["Financial Analyst"]},
		{"query": "Create a summary report", "priority": "medium", "dependencies": [0], "suggested_delegates": ["Report Writer"]}
	]`}}
	svc := NewService(client)

	subqueries := svc.SplitQuery(context.Background(), "analyze and report", testDelegates, 0)
	require.Len(t, subqueries, 2)

	assert.Equal(t, "Analyze the financial data for Q4", subqueries[0].Query)
	assert.Equal(t, models.PriorityHigh, subqueries[0].Priority)
	assert.Empty(t, subqueries[0].Dependencies)
	assert.Equal(t, 0, subqueries[0].Index)
	assert.NotEmpty(t, subqueries[0].SubqueryID)

	assert.Equal(t, []int{0}, subqueries[1].Dependencies)
	assert.Equal(t, 1, subqueries[1].Index)
}

func TestSplitQuery_MarkdownFences(t *testing.T) {
	client := &scriptedClient{responses: []string{"```json\n[{\"query\": \"task one\", \"priority\": \"low\"}]\n```"}}
	svc := NewService(client)

	subqueries := svc.SplitQuery(context.Background(), "input", testDelegates, 0)
	require.Len(t, subqueries, 1)
	assert.Equal(t, "task one", subqueries[0].Query)
	assert.Equal(t, models.PriorityLow, subqueries[0].Priority)
}

func TestSplitQuery_FallbackOnLLMError(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("provider unavailable")}}
	svc := NewService(client)

	subqueries := svc.SplitQuery(context.Background(), "full input text", testDelegates, 0)
	require.Len(t, subqueries, 1)
	assert.Equal(t, "full input text", subqueries[0].Query)
	assert.Equal(t, models.PriorityMedium, subqueries[0].Priority)
	assert.ElementsMatch(t, []string{"Financial Analyst", "Report Writer"}, subqueries[0].SuggestedDelegates)
}

func TestSplitQuery_FallbackOnGarbage(t *testing.T) {
	client := &scriptedClient{responses: []string{"I could not split this query, sorry!"}}
	svc := NewService(client)

	subqueries := svc.SplitQuery(context.Background(), "the input", testDelegates, 0)
	require.Len(t, subqueries, 1)
	assert.Equal(t, "the input", subqueries[0].Query)
}

func TestSplitQuery_FallbackOnEmptyArray(t *testing.T) {
	client := &scriptedClient{responses: []string{`[]`}}
	svc := NewService(client)

	subqueries := svc.SplitQuery(context.Background(), "the input", testDelegates, 0)
	require.Len(t, subqueries, 1)
	assert.Equal(t, "the input", subqueries[0].Query)
}

func TestSplitQuery_DropsEmptyQueries(t *testing.T) {
	client := &scriptedClient{responses: []string{`[
		{"query": "  ", "priority": "high"},
		{"query": "real task", "priority": "invalid-priority"}
	]`}}
	svc := NewService(client)

	subqueries := svc.SplitQuery(context.Background(), "input", testDelegates, 0)
	require.Len(t, subqueries, 1)
	assert.Equal(t, "real task", subqueries[0].Query)
	// Unknown priorities normalize to medium.
	assert.Equal(t, models.PriorityMedium, subqueries[0].Priority)
}

func TestSplitQuery_MaxSubqueriesByPriority(t *testing.T) {
	client := &scriptedClient{responses: []string{`[
		{"query": "low one", "priority": "low"},
		{"query": "high one", "priority": "high"},
		{"query": "medium one", "priority": "medium"},
		{"query": "high two", "priority": "high"}
	]`}}
	svc := NewService(client)

	subqueries := svc.SplitQuery(context.Background(), "input", testDelegates, 2)
	require.Len(t, subqueries, 2)
	// High priority wins; stable order keeps "high one" before "high two".
	assert.Equal(t, "high one", subqueries[0].Query)
	assert.Equal(t, "high two", subqueries[1].Query)
}

func TestSplitQuery_EmptyInput(t *testing.T) {
	svc := NewService(&scriptedClient{})
	assert.Nil(t, svc.SplitQuery(context.Background(), "  ", testDelegates, 0))
	assert.Nil(t, svc.SplitQuery(context.Background(), "input", nil, 0))
}

func TestMatchSubquery_ConfidentMatch(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"assigned_delegates": ["Financial Analyst"], "confidence": 0.9, "reasoning": "finance expertise"}`,
	}}
	svc := NewService(client)

	result := svc.MatchSubquery(context.Background(), "analyze Q4 numbers", testDelegates, 0.7)
	assert.Equal(t, []string{"Financial Analyst"}, result.AssignedDelegates)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, "finance expertise", result.Reasoning)
}

func TestMatchSubquery_BelowThresholdBroadcasts(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"assigned_delegates": ["Financial Analyst"], "confidence": 0.4, "reasoning": "weak match"}`,
	}}
	svc := NewService(client)

	result := svc.MatchSubquery(context.Background(), "ambiguous task", testDelegates, 0.7)
	assert.ElementsMatch(t, []string{"Financial Analyst", "Report Writer"}, result.AssignedDelegates)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Contains(t, result.Reasoning, "weak match")
}

func TestMatchSubquery_UnknownNamesFiltered(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"assigned_delegates": ["Nonexistent Agent"], "confidence": 0.95, "reasoning": "made up"}`,
	}}
	svc := NewService(client)

	// All named delegates were invalid — broadcast.
	result := svc.MatchSubquery(context.Background(), "task", testDelegates, 0.7)
	assert.ElementsMatch(t, []string{"Financial Analyst", "Report Writer"}, result.AssignedDelegates)
}

func TestMatchSubquery_ConfidenceClamped(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"assigned_delegates": ["Report Writer"], "confidence": 3.5, "reasoning": "very sure"}`,
	}}
	svc := NewService(client)

	result := svc.MatchSubquery(context.Background(), "write it up", testDelegates, 0.7)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, []string{"Report Writer"}, result.AssignedDelegates)
}

func TestMatchSubquery_ErrorBroadcasts(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("rate limited")}}
	svc := NewService(client)

	result := svc.MatchSubquery(context.Background(), "task", testDelegates, 0.7)
	assert.ElementsMatch(t, []string{"Financial Analyst", "Report Writer"}, result.AssignedDelegates)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestMatchSubquery_ParseFailureBroadcasts(t *testing.T) {
	client := &scriptedClient{responses: []string{"definitely the analyst"}}
	svc := NewService(client)

	result := svc.MatchSubquery(context.Background(), "task", testDelegates, 0.7)
	assert.ElementsMatch(t, []string{"Financial Analyst", "Report Writer"}, result.AssignedDelegates)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestPromptsIncludeDelegateDescriptions(t *testing.T) {
	client := &scriptedClient{responses: []string{`[]`, `{}`}}
	svc := NewService(client)

	svc.SplitQuery(context.Background(), "input", testDelegates, 0)
	svc.MatchSubquery(context.Background(), "task", testDelegates, 0.7)

	require.Len(t, client.prompts, 2)
	for _, prompt := range client.prompts {
		assert.Contains(t, prompt, "Financial Analyst: Analyzes financial data")
		assert.Contains(t, prompt, "Report Writer: Writes summary reports")
	}
}
