// Package analysis implements intelligent query splitting and delegate
// matching for group chat orchestration. Both operations are LLM-backed with
// strict JSON prompts and deterministic fallbacks — a malformed model reply
// never fails the workflow.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
)

// Structural calls run cold for consistent parsing.
const (
	splitTemperature = 0.3
	splitMaxTokens   = 2000
	matchTemperature = 0.2
	matchMaxTokens   = 500
)

// Service analyzes queries and routes them to delegate agents.
type Service struct {
	client llm.Client
}

// NewService creates a query analysis service over the given LLM client.
func NewService(client llm.Client) *Service {
	return &Service{client: client}
}

// MatchResult is the outcome of matching one subquery against delegates.
type MatchResult struct {
	AssignedDelegates []string `json:"assigned_delegates"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
}

// SplitQuery splits the input into actionable subqueries using the delegate
// descriptions as routing hints. maxSubqueries <= 0 means no limit; when the
// limit is exceeded, subqueries are kept by priority (high > medium > low,
// stable). Any LLM failure, parse failure, or empty result falls back to a
// single subquery carrying the full input with every delegate suggested.
func (s *Service) SplitQuery(ctx context.Context, input string, delegates map[string]string, maxSubqueries int) []*models.Subquery {
	logger := slog.With("input_chars", len(input), "delegates", len(delegates))

	if strings.TrimSpace(input) == "" || len(delegates) == 0 {
		logger.Warn("Query split skipped: empty input or no delegates")
		return nil
	}

	prompt := buildSplitPrompt(input, delegates)
	resp, err := s.client.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   splitMaxTokens,
		Temperature: splitTemperature,
	})
	if err != nil {
		logger.Error("Query split LLM call failed, using single-subquery fallback", "error", err)
		return []*models.Subquery{fallbackSubquery(input, delegates)}
	}

	subqueries, err := parseSubqueries(resp.Text, input, delegates)
	if err != nil {
		logger.Error("Query split parse failed, using single-subquery fallback", "error", err)
		return []*models.Subquery{fallbackSubquery(input, delegates)}
	}
	if len(subqueries) == 0 {
		logger.Warn("Query split produced no subqueries, using single-subquery fallback")
		return []*models.Subquery{fallbackSubquery(input, delegates)}
	}

	if maxSubqueries > 0 && len(subqueries) > maxSubqueries {
		original := len(subqueries)
		sort.SliceStable(subqueries, func(i, j int) bool {
			return models.PriorityRank(subqueries[i].Priority) > models.PriorityRank(subqueries[j].Priority)
		})
		subqueries = subqueries[:maxSubqueries]
		logger.Info("Limited subqueries by priority", "original", original, "kept", len(subqueries))
	}

	logger.Info("Query split complete", "subqueries", len(subqueries))
	return subqueries
}

// MatchSubquery routes one subquery to the best matching delegates. When the
// model's confidence falls below threshold, no valid delegate is named, or
// anything fails, the subquery is broadcast to all delegates at confidence
// 0.5 with the fallback cause recorded in the reasoning.
func (s *Service) MatchSubquery(ctx context.Context, subquery string, delegates map[string]string, threshold float64) *MatchResult {
	logger := slog.With("subquery_chars", len(subquery), "threshold", threshold)

	if strings.TrimSpace(subquery) == "" {
		return &MatchResult{Reasoning: "Empty subquery provided"}
	}
	if len(delegates) == 0 {
		return &MatchResult{Reasoning: "No delegates available"}
	}

	prompt := buildMatchPrompt(subquery, delegates)
	resp, err := s.client.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   matchMaxTokens,
		Temperature: matchTemperature,
	})
	if err != nil {
		logger.Error("Delegate match LLM call failed, broadcasting to all", "error", err)
		return broadcast(delegates, "LLM matching failed, broadcasting to all delegates")
	}

	var result MatchResult
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Text)), &result); err != nil {
		logger.Error("Delegate match parse failed, broadcasting to all", "error", err)
		return broadcast(delegates, "Failed to parse matching response, broadcasting to all delegates")
	}

	// Keep only names that actually exist.
	valid := result.AssignedDelegates[:0]
	for _, name := range result.AssignedDelegates {
		if _, ok := delegates[name]; ok {
			valid = append(valid, name)
		}
	}
	result.AssignedDelegates = valid
	result.Confidence = clamp01(result.Confidence)

	if len(result.AssignedDelegates) == 0 || result.Confidence < threshold {
		logger.Warn("Low confidence or no valid delegates, broadcasting to all",
			"confidence", result.Confidence, "valid", len(result.AssignedDelegates))
		fb := broadcast(delegates, fmt.Sprintf(
			"Confidence below threshold or no valid matches. Original reasoning: %s", result.Reasoning))
		return fb
	}

	logger.Info("Matched subquery", "delegates", len(result.AssignedDelegates), "confidence", result.Confidence)
	return &result
}

func fallbackSubquery(input string, delegates map[string]string) *models.Subquery {
	return &models.Subquery{
		SubqueryID:         uuid.New().String(),
		Query:              input,
		Priority:           models.PriorityMedium,
		Dependencies:       []int{},
		SuggestedDelegates: delegateNames(delegates),
		Index:              0,
		CreatedAt:          time.Now(),
	}
}

func broadcast(delegates map[string]string, reasoning string) *MatchResult {
	return &MatchResult{
		AssignedDelegates: delegateNames(delegates),
		Confidence:        0.5,
		Reasoning:         reasoning,
	}
}

func delegateNames(delegates map[string]string) []string {
	names := make([]string, 0, len(delegates))
	for name := range delegates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseSubqueries decodes the model's JSON array into validated subqueries.
func parseSubqueries(text, input string, delegates map[string]string) ([]*models.Subquery, error) {
	text = stripCodeFences(text)

	var raw []struct {
		Query              string   `json:"query"`
		Priority           string   `json:"priority"`
		Dependencies       []int    `json:"dependencies"`
		SuggestedDelegates []string `json:"suggested_delegates"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("response is not a JSON array: %w", err)
	}

	subqueries := make([]*models.Subquery, 0, len(raw))
	for idx, sq := range raw {
		query := strings.TrimSpace(sq.Query)
		if query == "" {
			continue
		}
		priority := strings.ToLower(sq.Priority)
		switch priority {
		case models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
		default:
			priority = models.PriorityMedium
		}
		deps := sq.Dependencies
		if deps == nil {
			deps = []int{}
		}
		subqueries = append(subqueries, &models.Subquery{
			SubqueryID:         uuid.New().String(),
			Query:              query,
			Priority:           priority,
			Dependencies:       deps,
			SuggestedDelegates: sq.SuggestedDelegates,
			Index:              idx,
			CreatedAt:          time.Now(),
		})
	}
	return subqueries, nil
}

// stripCodeFences removes a surrounding markdown code block and, failing
// that, extracts the outermost JSON array or object.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		start, end := -1, -1
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if start == -1 && strings.HasPrefix(trimmed, "```") {
				start = i + 1
				continue
			}
			if start != -1 && trimmed == "```" {
				end = i
				break
			}
		}
		switch {
		case start != -1 && end != -1:
			return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		case start != -1:
			return strings.TrimSpace(strings.Join(lines[start:], "\n"))
		}
	}

	// Fall back to the outermost bracket pair.
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start != -1 && end > start {
			return text[start : end+1]
		}
	}
	return text
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func buildSplitPrompt(input string, delegates map[string]string) string {
	var b strings.Builder
	b.WriteString(`You are a task analysis system. Given an input query and available delegate agents,
analyze the query and split it into meaningful, actionable subqueries.

Input Query: `)
	b.WriteString(input)
	b.WriteString("\n\nAvailable Delegates:\n")
	writeDelegateList(&b, delegates)
	b.WriteString(`
Instructions:
1. Identify distinct, actionable subqueries within the input
2. Each subquery should be specific and assignable to a delegate
3. Maintain context and relationships between subqueries
4. Prioritize subqueries (high/medium/low) based on importance
5. Identify dependencies between subqueries if any
6. Suggest which delegate(s) might handle each subquery based on their descriptions

Return a JSON array of subqueries. Each subquery should have:
- query: The subquery text (string)
- priority: Priority level - "high", "medium", or "low" (string)
- dependencies: List of other subquery indices this depends on (array of integers, empty if none)
- suggested_delegates: List of delegate names that might handle this (array of strings)

Return ONLY the JSON array, no additional text or explanation.`)
	return b.String()
}

func buildMatchPrompt(subquery string, delegates map[string]string) string {
	var b strings.Builder
	b.WriteString(`You are a task routing system. Given a subquery and available delegate agents,
determine which delegate(s) should handle this subquery.

Subquery: `)
	b.WriteString(subquery)
	b.WriteString("\n\nAvailable Delegates:\n")
	writeDelegateList(&b, delegates)
	b.WriteString(`
Instructions:
1. Analyze the subquery requirements and capabilities needed
2. Match against delegate capabilities (from their descriptions)
3. Assign to the best matching delegate(s) - can assign to multiple if collaboration is beneficial
4. Provide confidence score (0.0-1.0) indicating how well the delegate matches
5. Provide brief reasoning for the assignment

Return JSON with:
- assigned_delegates: List of delegate names (array of strings)
- confidence: Confidence score between 0.0 and 1.0 (float)
- reasoning: Brief explanation of why these delegates were chosen (string)

Return ONLY the JSON object, no additional text or explanation.`)
	return b.String()
}

func writeDelegateList(b *strings.Builder, delegates map[string]string) {
	for _, name := range delegateNames(delegates) {
		fmt.Fprintf(b, "- %s: %s\n", name, delegates[name])
	}
}
