package types

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

/*
 * Typed action configuration.
 *
 * Rules are authored with a single key/value bag per action. The bag is
 * decoded once at the rule store boundary into one payload struct per action
 * type, so the dispatcher works with typed fields rather than an open map.
 *
 * Each payload renders its templated strings (Render) and checks its required
 * keys (Validate). Validation runs after rendering: a title that renders to an
 * empty string is as missing as an absent one.
 */

// ActionType names an action variant.
type ActionType string

const (
	ActionAIAnalysis       ActionType = "ai-analysis"
	ActionAddTag           ActionType = "add-tag"
	ActionSendNotification ActionType = "send-notification"
	ActionCreateTask       ActionType = "create-task"
	ActionUpdateStatus     ActionType = "update-status"
	ActionCustomWebhook    ActionType = "custom-webhook"
)

// ActionTypes lists every supported action type.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionAIAnalysis, ActionAddTag, ActionSendNotification,
		ActionCreateTask, ActionUpdateStatus, ActionCustomWebhook,
	}
}

// Valid reports whether t is a supported action type.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ActionConfig is the typed payload of one action.
type ActionConfig interface {
	ActionType() ActionType
	// Render returns a copy with every templated string passed through fn.
	Render(fn func(string) string) ActionConfig
	// Validate returns a *ConfigurationError for the first missing required key.
	Validate() error
}

// AIAnalysisConfig runs a prompt through the AI provider.
type AIAnalysisConfig struct {
	Prompt    string `mapstructure:"prompt"`
	ModelID   string `mapstructure:"modelId,omitempty"`
	MaxTokens int    `mapstructure:"maxTokens,omitempty"`
}

// AddTagConfig tags the triggering record.
type AddTagConfig struct {
	TagName string `mapstructure:"tagName"`
}

// SendNotificationConfig notifies a user. Empty UserID targets the record owner
// as resolved by the notification service.
type SendNotificationConfig struct {
	Title   string `mapstructure:"title"`
	Message string `mapstructure:"message"`
	UserID  string `mapstructure:"userId,omitempty"`
}

// CreateTaskConfig creates a follow-up task linked to the record.
type CreateTaskConfig struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description,omitempty"`
	Priority    string `mapstructure:"priority,omitempty"`
	DueInDays   int    `mapstructure:"dueInDays,omitempty"`
}

// UpdateStatusConfig sets the record's status field.
type UpdateStatusConfig struct {
	Status string `mapstructure:"status"`
}

// CustomWebhookConfig calls an external URL with a payload built from the
// resolved fields.
type CustomWebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method,omitempty"`
	Headers map[string]string `mapstructure:"headers,omitempty"`
}

func (AIAnalysisConfig) ActionType() ActionType       { return ActionAIAnalysis }
func (AddTagConfig) ActionType() ActionType           { return ActionAddTag }
func (SendNotificationConfig) ActionType() ActionType { return ActionSendNotification }
func (CreateTaskConfig) ActionType() ActionType       { return ActionCreateTask }
func (UpdateStatusConfig) ActionType() ActionType     { return ActionUpdateStatus }
func (CustomWebhookConfig) ActionType() ActionType    { return ActionCustomWebhook }

func (c AIAnalysisConfig) Render(fn func(string) string) ActionConfig {
	c.Prompt = fn(c.Prompt)
	return c
}

func (c AddTagConfig) Render(fn func(string) string) ActionConfig {
	c.TagName = fn(c.TagName)
	return c
}

func (c SendNotificationConfig) Render(fn func(string) string) ActionConfig {
	c.Title = fn(c.Title)
	c.Message = fn(c.Message)
	return c
}

func (c CreateTaskConfig) Render(fn func(string) string) ActionConfig {
	c.Title = fn(c.Title)
	c.Description = fn(c.Description)
	return c
}

func (c UpdateStatusConfig) Render(fn func(string) string) ActionConfig {
	c.Status = fn(c.Status)
	return c
}

// Render substitutes into the URL only; header values are credentials and are
// sent verbatim.
func (c CustomWebhookConfig) Render(fn func(string) string) ActionConfig {
	c.URL = fn(c.URL)
	return c
}

func (c AIAnalysisConfig) Validate() error {
	return requireKeys(ActionAIAnalysis, "prompt", c.Prompt)
}

func (c AddTagConfig) Validate() error {
	return requireKeys(ActionAddTag, "tagName", c.TagName)
}

func (c SendNotificationConfig) Validate() error {
	return requireKeys(ActionSendNotification, "title", c.Title, "message", c.Message)
}

func (c CreateTaskConfig) Validate() error {
	return requireKeys(ActionCreateTask, "title", c.Title)
}

func (c UpdateStatusConfig) Validate() error {
	return requireKeys(ActionUpdateStatus, "status", c.Status)
}

func (c CustomWebhookConfig) Validate() error {
	return requireKeys(ActionCustomWebhook, "url", c.URL)
}

// requireKeys takes alternating key/value pairs and reports the first value
// that is blank.
func requireKeys(t ActionType, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return &ConfigurationError{ActionType: t, Key: pairs[i], Reason: "is required"}
		}
	}
	return nil
}

// DecodeActionConfig decodes a stored config bag into the payload for t.
// Numbers and booleans in string slots are weakly converted, matching the
// loosely typed editor that produced them.
func DecodeActionConfig(t ActionType, raw map[string]any) (ActionConfig, error) {
	var target any
	switch t {
	case ActionAIAnalysis:
		target = &AIAnalysisConfig{}
	case ActionAddTag:
		target = &AddTagConfig{}
	case ActionSendNotification:
		target = &SendNotificationConfig{}
	case ActionCreateTask:
		target = &CreateTaskConfig{}
	case ActionUpdateStatus:
		target = &UpdateStatusConfig{}
	case ActionCustomWebhook:
		target = &CustomWebhookConfig{}
	default:
		return nil, &ConfigurationError{ActionType: t, Reason: "unsupported action type"}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &ConfigurationError{ActionType: t, Reason: fmt.Sprintf("cannot decode config: %v", err)}
	}

	switch cfg := target.(type) {
	case *AIAnalysisConfig:
		return *cfg, nil
	case *AddTagConfig:
		return *cfg, nil
	case *SendNotificationConfig:
		return *cfg, nil
	case *CreateTaskConfig:
		return *cfg, nil
	case *UpdateStatusConfig:
		return *cfg, nil
	default:
		return *target.(*CustomWebhookConfig), nil
	}
}

// EncodeActionConfig flattens a payload back into a config bag for storage.
func EncodeActionConfig(cfg ActionConfig) (map[string]any, error) {
	out := map[string]any{}
	if cfg == nil {
		return out, nil
	}
	if err := mapstructure.Decode(cfg, &out); err != nil {
		return nil, fmt.Errorf("encode %s config: %w", cfg.ActionType(), err)
	}
	return out, nil
}
