package delegate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
	"github.com/intellidoc/agentflow/pkg/protocol"
)

// slowThenOKClient delays the first slowCalls invocations past any deadline,
// then answers.
type slowThenOKClient struct {
	slowCalls int
	calls     int
	response  string
}

func (c *slowThenOKClient) Generate(ctx context.Context, _ *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	c.calls++
	if c.calls <= c.slowCalls {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llm.GenerateResponse{Text: c.response}, nil
}

// scriptedClient returns canned outcomes in order.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
}

func (c *scriptedClient) Generate(_ context.Context, _ *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	idx := c.calls
	c.calls++
	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	if idx < len(c.responses) {
		return &llm.GenerateResponse{Text: c.responses[idx]}, nil
	}
	return &llm.GenerateResponse{Text: "done"}, nil
}

// fakeFactory hands out a fixed client, or an error.
type fakeFactory struct {
	client llm.Client
	err    error
}

func (f *fakeFactory) ProviderFor(_ context.Context, _, _, _ string) (llm.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func newTestExecutor(client llm.Client) *Executor {
	e := NewExecutor(&fakeFactory{client: client}, nil)
	e.backoff = func(int) time.Duration { return time.Millisecond }
	return e
}

func delegateNode() *graph.Node {
	return &graph.Node{
		ID:   "d1",
		Type: graph.NodeTypeDelegateAgent,
		Data: graph.NodeConfig{
			Name:          "Analyst",
			SystemMessage: "You analyze data.",
			LLMProvider:   "openai",
			LLMModel:      "gpt-4",
		},
	}
}

func testInput(node *graph.Node) ExecuteInput {
	return ExecuteInput{
		Delegate:   node,
		Delegation: protocol.NewDelegation("sq-1", "analyze this", "medium", "input", nil, 1, 1.0),
		ProjectID:  "proj-1",
		Timeout:    time.Second,
		MaxRetries: 2,
	}
}

func TestExecute_Success(t *testing.T) {
	client := &scriptedClient{responses: []string{"The analysis is complete."}}
	e := newTestExecutor(client)

	resp := e.Execute(context.Background(), testInput(delegateNode()))
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseStatusCompleted, resp.Status)
	assert.Equal(t, "The analysis is complete.", resp.Response)
	assert.Equal(t, 0, resp.RetryCount)
	assert.Equal(t, 1, client.calls)
}

func TestExecute_TimeoutRetriesThenSucceeds(t *testing.T) {
	// Two slow attempts, then "ok": 3 attempts total, retry_count=2.
	client := &slowThenOKClient{slowCalls: 2, response: "ok"}
	e := newTestExecutor(client)

	in := testInput(delegateNode())
	in.Timeout = 50 * time.Millisecond

	resp := e.Execute(context.Background(), in)
	assert.Equal(t, models.ResponseStatusCompleted, resp.Status)
	assert.Equal(t, "ok", resp.Response)
	assert.Equal(t, 2, resp.RetryCount)
	assert.Equal(t, 3, client.calls)
}

func TestExecute_RetryBound(t *testing.T) {
	// Every attempt times out: exactly maxRetries+1 invocations.
	client := &slowThenOKClient{slowCalls: 100}
	e := newTestExecutor(client)

	in := testInput(delegateNode())
	in.Timeout = 20 * time.Millisecond
	in.MaxRetries = 2

	resp := e.Execute(context.Background(), in)
	assert.Equal(t, models.ResponseStatusError, resp.Status)
	assert.Equal(t, 2, resp.RetryCount)
	assert.Equal(t, 3, client.calls)
	assert.Contains(t, resp.Response, "ERROR:")
	assert.Equal(t, "timeout", resp.Metadata["error_type"])
}

func TestExecute_NonRetryableFailsImmediately(t *testing.T) {
	client := &scriptedClient{errs: []error{
		&llm.ProviderError{Provider: "openai", StatusCode: 401, Message: "bad key"},
	}}
	e := newTestExecutor(client)

	resp := e.Execute(context.Background(), testInput(delegateNode()))
	assert.Equal(t, models.ResponseStatusError, resp.Status)
	assert.Equal(t, 0, resp.RetryCount)
	assert.Equal(t, 1, client.calls)
}

func TestExecute_RetryableProviderError(t *testing.T) {
	client := &scriptedClient{
		errs:      []error{&llm.ProviderError{Provider: "openai", StatusCode: 500, Message: "oops", Retryable: true}},
		responses: []string{"", "recovered"},
	}
	e := newTestExecutor(client)

	resp := e.Execute(context.Background(), testInput(delegateNode()))
	assert.Equal(t, models.ResponseStatusCompleted, resp.Status)
	assert.Equal(t, "recovered", resp.Response)
	assert.Equal(t, 1, resp.RetryCount)
}

func TestExecute_MissingCredentialFailsFast(t *testing.T) {
	e := NewExecutor(&fakeFactory{err: errors.New("no API key available")}, nil)

	resp := e.Execute(context.Background(), testInput(delegateNode()))
	assert.Equal(t, models.ResponseStatusError, resp.Status)
	assert.Equal(t, 0, resp.RetryCount)
	assert.Contains(t, resp.Response, "no API key")
}

func TestExecute_ErrorPrefixedTextIsError(t *testing.T) {
	client := &scriptedClient{responses: []string{"ERROR: I cannot do this"}}
	e := newTestExecutor(client)

	resp := e.Execute(context.Background(), testInput(delegateNode()))
	assert.Equal(t, models.ResponseStatusError, resp.Status)
	assert.Equal(t, 1, client.calls)
}

func TestExecute_StructuredResponseParsed(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"type": "response", "response": "structured answer", "status": "completed", "confidence": 0.8}`,
	}}
	e := newTestExecutor(client)

	resp := e.Execute(context.Background(), testInput(delegateNode()))
	assert.Equal(t, "structured answer", resp.Response)
	assert.Equal(t, 0.8, resp.Confidence)
}

func TestExecute_PromptOverride(t *testing.T) {
	var captured string
	client := captureClient{prompt: &captured}
	e := newTestExecutor(client)

	in := testInput(delegateNode())
	in.PromptOverride = "custom round prompt"
	resp := e.Execute(context.Background(), in)

	assert.Equal(t, models.ResponseStatusCompleted, resp.Status)
	assert.Equal(t, "custom round prompt", captured)
}

func TestDefaultBackoff_CappedAtTenSeconds(t *testing.T) {
	assert.Equal(t, 2*time.Second, defaultBackoff(1))
	assert.Equal(t, 4*time.Second, defaultBackoff(2))
	assert.Equal(t, 8*time.Second, defaultBackoff(3))
	assert.Equal(t, 10*time.Second, defaultBackoff(4))
	assert.Equal(t, 10*time.Second, defaultBackoff(8))
}

type captureClient struct {
	prompt *string
}

func (c captureClient) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	*c.prompt = req.Prompt
	return &llm.GenerateResponse{Text: "done"}, nil
}
