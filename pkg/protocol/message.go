// Package protocol defines the structured message formats exchanged between
// a GroupChatManager and its delegate agents: delegation requests,
// acknowledgments, responses, and errors.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies a delegation protocol message kind.
type MessageType string

// Delegation protocol message types.
const (
	MessageTypeDelegation     MessageType = "delegation"
	MessageTypeAcknowledgment MessageType = "acknowledgment"
	MessageTypeResponse       MessageType = "response"
	MessageTypeError          MessageType = "error"
)

// Acknowledgment statuses.
const (
	AckStatusAccepted              = "accepted"
	AckStatusRejected              = "rejected"
	AckStatusRequiresClarification = "requires_clarification"
)

// Response statuses.
const (
	ResponseStatusCompleted  = "completed"
	ResponseStatusInProgress = "in_progress"
	ResponseStatusError      = "error"
)

// DelegationContext carries the surrounding context of a delegation.
type DelegationContext struct {
	OriginalInput     string   `json:"original_input"`
	RelatedSubqueries []string `json:"related_subqueries"`
	Iteration         int      `json:"iteration"`
}

// Delegation is a task assignment sent from a GCM to a delegate.
type Delegation struct {
	Type       MessageType       `json:"type"`
	MessageID  string            `json:"message_id"`
	Timestamp  time.Time         `json:"timestamp"`
	SubqueryID string            `json:"subquery_id"`
	Subquery   string            `json:"subquery"`
	Priority   string            `json:"priority"`
	Context    DelegationContext `json:"context"`
	Metadata   struct {
		DelegationConfidence float64 `json:"delegation_confidence"`
	} `json:"metadata"`
}

// Acknowledgment is a delegate's accept/reject reply to a delegation.
type Acknowledgment struct {
	Type         MessageType `json:"type"`
	MessageID    string      `json:"message_id"`
	Timestamp    time.Time   `json:"timestamp"`
	SubqueryID   string      `json:"subquery_id"`
	DelegateName string      `json:"delegate_name"`
	Status       string      `json:"status"`
	Message      string      `json:"message,omitempty"`
}

// ResponseMetadata carries measurement data attached to a response.
type ResponseMetadata struct {
	TokensUsed     int   `json:"tokens_used,omitempty"`
	ResponseTimeMS int64 `json:"response_time_ms,omitempty"`
}

// Response is a delegate's answer to a delegation.
type Response struct {
	Type           MessageType      `json:"type"`
	MessageID      string           `json:"message_id"`
	Timestamp      time.Time        `json:"timestamp"`
	SubqueryID     string           `json:"subquery_id"`
	DelegateName   string           `json:"delegate_name"`
	Response       string           `json:"response"`
	Status         string           `json:"status"`
	Confidence     float64          `json:"confidence"`
	Metadata       ResponseMetadata `json:"metadata"`
	ParsedFromText bool             `json:"parsed_from_text,omitempty"`
}

// ErrorMessage reports a delegation failure.
type ErrorMessage struct {
	Type         MessageType `json:"type"`
	MessageID    string      `json:"message_id"`
	Timestamp    time.Time   `json:"timestamp"`
	SubqueryID   string      `json:"subquery_id"`
	DelegateName string      `json:"delegate_name,omitempty"`
	ErrorType    string      `json:"error_type"`
	ErrorMessage string      `json:"error_message"`
	Retryable    bool        `json:"retryable"`
}

// NewDelegation creates a delegation message with a fresh message id.
func NewDelegation(subqueryID, subquery, priority, originalInput string, related []string, iteration int, confidence float64) *Delegation {
	d := &Delegation{
		Type:       MessageTypeDelegation,
		MessageID:  uuid.New().String(),
		Timestamp:  time.Now(),
		SubqueryID: subqueryID,
		Subquery:   subquery,
		Priority:   priority,
		Context: DelegationContext{
			OriginalInput:     originalInput,
			RelatedSubqueries: related,
			Iteration:         iteration,
		},
	}
	d.Metadata.DelegationConfidence = confidence
	return d
}

// NewResponse creates a response message with a fresh message id.
func NewResponse(subqueryID, delegateName, response, status string, confidence float64) *Response {
	return &Response{
		Type:         MessageTypeResponse,
		MessageID:    uuid.New().String(),
		Timestamp:    time.Now(),
		SubqueryID:   subqueryID,
		DelegateName: delegateName,
		Response:     response,
		Status:       status,
		Confidence:   confidence,
	}
}

// NewErrorMessage creates an error message, classifying err as retryable
// when it is a timeout or connection-level failure.
func NewErrorMessage(subqueryID, delegateName string, err error) *ErrorMessage {
	return &ErrorMessage{
		Type:         MessageTypeError,
		MessageID:    uuid.New().String(),
		Timestamp:    time.Now(),
		SubqueryID:   subqueryID,
		DelegateName: delegateName,
		ErrorType:    errorType(err),
		ErrorMessage: err.Error(),
		Retryable:    IsRetryableError(err),
	}
}

// IsRetryableError reports whether an error is worth retrying: deadline
// exceeded and connection-level failures are; everything else is not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			return "connection"
		}
		return "execution"
	}
}

// Validate checks a raw message map against the protocol: known type,
// required fields present, enum values valid.
func Validate(message map[string]any) error {
	msgType, _ := message["type"].(string)
	if msgType == "" {
		return errors.New("message missing 'type' field")
	}

	switch MessageType(msgType) {
	case MessageTypeDelegation:
		if err := requireFields(message, "subquery_id", "subquery", "priority", "context", "metadata"); err != nil {
			return err
		}
		priority, _ := message["priority"].(string)
		switch priority {
		case "high", "medium", "low":
		default:
			return fmt.Errorf("invalid priority: %q", priority)
		}
	case MessageTypeAcknowledgment:
		if err := requireFields(message, "subquery_id", "delegate_name", "status"); err != nil {
			return err
		}
		status, _ := message["status"].(string)
		switch status {
		case AckStatusAccepted, AckStatusRejected, AckStatusRequiresClarification:
		default:
			return fmt.Errorf("invalid acknowledgment status: %q", status)
		}
	case MessageTypeResponse:
		if err := requireFields(message, "subquery_id", "delegate_name", "response", "status"); err != nil {
			return err
		}
		status, _ := message["status"].(string)
		switch status {
		case ResponseStatusCompleted, ResponseStatusInProgress, ResponseStatusError:
		default:
			return fmt.Errorf("invalid response status: %q", status)
		}
	case MessageTypeError:
		if err := requireFields(message, "subquery_id", "error_type", "error_message"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown message type: %q", msgType)
	}
	return nil
}

func requireFields(message map[string]any, fields ...string) error {
	for _, f := range fields {
		if _, ok := message[f]; !ok {
			return fmt.Errorf("message missing required field: %s", f)
		}
	}
	return nil
}

// ParseDelegateResponse parses raw delegate text opportunistically: when the
// text contains a JSON object with a "type" field it is decoded as a
// structured response; otherwise the plain text is wrapped in a completed
// Response with ParsedFromText set. Returns nil for empty input.
func ParseDelegateResponse(text string) *Response {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start != -1 && end > start {
		var resp Response
		if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err == nil && resp.Type != "" {
			if resp.Status == "" {
				resp.Status = ResponseStatusCompleted
			}
			if resp.Confidence == 0 {
				resp.Confidence = 1.0
			}
			return &resp
		}
	}

	return &Response{
		Type:           MessageTypeResponse,
		Response:       text,
		Status:         ResponseStatusCompleted,
		Confidence:     1.0,
		ParsedFromText: true,
	}
}

// FormatForDelegate renders a delegation as the human-readable block sent to
// delegate LLMs. Delegates see text, not JSON — plain prose keeps models
// robust across providers.
func (d *Delegation) FormatForDelegate() string {
	return fmt.Sprintf(`=== DELEGATION REQUEST ===

Subquery ID: %s
Priority: %s

Task:
%s

Context:
- Original Input: %s
- Related Subqueries: %d related
- Iteration: %d

Please process this subquery and provide your response.
`,
		d.SubqueryID,
		strings.ToUpper(d.Priority),
		d.Subquery,
		orNA(d.Context.OriginalInput),
		len(d.Context.RelatedSubqueries),
		d.Context.Iteration,
	)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
