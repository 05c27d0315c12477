// Package actions dispatches rule actions to external handlers.
//
// Each action type delegates to exactly one handler interface. The
// Dispatcher renders templated config against the rule's field map, checks
// required keys, applies defaults, and runs the handler under a per-action
// timeout with bounded retry. Every outcome is returned as a
// types.ActionResult; Dispatch never returns an error.
package actions

import (
	"context"
	"errors"

	"github.com/solatis/rulekeeper/internal/types"
)

// ErrTransient marks handler errors worth retrying (network failures, 5xx,
// rate limits). Handlers wrap with Transient; everything else fails on the
// first attempt.
var ErrTransient = errors.New("transient")

type transientError struct{ err error }

func (e *transientError) Error() string        { return e.err.Error() }
func (e *transientError) Unwrap() error        { return e.err }
func (e *transientError) Is(target error) bool { return target == ErrTransient }

// Transient marks err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Target identifies the record and rule an action runs for.
type Target struct {
	Module   types.Module
	RecordID types.RecordID
	RuleID   types.RuleID
	RuleName string
}

// AIProvider produces completions for ai-analysis actions.
type AIProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is one AI completion call.
type CompletionRequest struct {
	Prompt    string
	ModelID   string
	MaxTokens int
}

// TagService tags records for add-tag actions.
type TagService interface {
	AddTag(ctx context.Context, module types.Module, recordID types.RecordID, tag string) error
}

// NotificationService delivers send-notification actions.
type NotificationService interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification is one rendered notification.
type Notification struct {
	ID       string         `json:"id"`
	Module   types.Module   `json:"module"`
	RecordID types.RecordID `json:"recordId"`
	RuleID   types.RuleID   `json:"ruleId"`
	UserID   string         `json:"userId,omitempty"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
}

// TaskService creates follow-up tasks for create-task actions.
type TaskService interface {
	CreateTask(ctx context.Context, t Task) (string, error)
}

// Task is one task to create, linked to the triggering record.
type Task struct {
	ID          string
	Module      types.Module
	RecordID    types.RecordID
	RuleID      types.RuleID
	Title       string
	Description string
	Priority    string
	DueInDays   int
}

// StatusMutator changes a record's status for update-status actions.
type StatusMutator interface {
	UpdateStatus(ctx context.Context, module types.Module, recordID types.RecordID, status string) error
}

// WebhookClient calls external URLs for custom-webhook actions.
// Returns the HTTP status code on success.
type WebhookClient interface {
	Send(ctx context.Context, req WebhookRequest) (int, error)
}

// WebhookRequest is one outgoing webhook call. Payload is JSON-encoded by the
// client.
type WebhookRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Payload WebhookPayload
}

// WebhookPayload is the body sent to custom webhooks.
type WebhookPayload struct {
	Module   types.Module   `json:"module"`
	RecordID types.RecordID `json:"recordId"`
	RuleID   types.RuleID   `json:"ruleId"`
	RuleName string         `json:"ruleName"`
	Fields   map[string]any `json:"fields"`
}

// Handlers bundles the external handlers. A nil handler makes actions of its
// type record as skipped.
type Handlers struct {
	AI            AIProvider
	Tags          TagService
	Notifications NotificationService
	Tasks         TaskService
	Status        StatusMutator
	Webhooks      WebhookClient
}

func (h Handlers) configured(t types.ActionType) bool {
	switch t {
	case types.ActionAIAnalysis:
		return h.AI != nil
	case types.ActionAddTag:
		return h.Tags != nil
	case types.ActionSendNotification:
		return h.Notifications != nil
	case types.ActionCreateTask:
		return h.Tasks != nil
	case types.ActionUpdateStatus:
		return h.Status != nil
	case types.ActionCustomWebhook:
		return h.Webhooks != nil
	default:
		return false
	}
}
