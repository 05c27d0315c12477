package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Action dispatch.
 *
 * Dispatch flow for one action:
 *   1. Render templated config against the field map (missing variables are
 *      warnings, the token stays in place)
 *   2. Validate required keys after rendering -> ConfigurationError
 *   3. Apply defaults (ai-analysis model, webhook method)
 *   4. Skip if no handler is configured for the type
 *   5. Call the handler under the type's timeout, retrying transient errors
 *      with exponential backoff up to MaxAttempts inside that timeout
 *   6. Classify failure: TimeoutError, ConfigurationError, or
 *      ActionExecutionError for anything the handler returned
 *
 * The field map is only read. IDs for created entities (notifications,
 * tasks) are generated once per dispatch so retries reuse them.
 */

// Config tunes the dispatcher. Zero values take the defaults below.
type Config struct {
	AITimeout         time.Duration // default 30s
	ActionTimeout     time.Duration // default 5s; tag, notification, task, status
	WebhookTimeout    time.Duration // default 10s
	MaxAttempts       int           // default 2
	RetryInitialDelay time.Duration // default 200ms
	DefaultModel      string        // default types.DefaultModelID
	Logger            *slog.Logger
}

// Dispatcher executes actions against external handlers. Safe for
// concurrent use.
type Dispatcher struct {
	handlers Handlers
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over handlers.
func NewDispatcher(handlers Handlers, cfg Config) *Dispatcher {
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 30 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = 200 * time.Millisecond
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = types.DefaultModelID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: handlers, cfg: cfg, logger: logger}
}

// Timeout returns the dispatch timeout for t.
func (d *Dispatcher) Timeout(t types.ActionType) time.Duration {
	switch t {
	case types.ActionAIAnalysis:
		return d.cfg.AITimeout
	case types.ActionCustomWebhook:
		return d.cfg.WebhookTimeout
	default:
		return d.cfg.ActionTimeout
	}
}

// Skipped builds the result for an action that was never started.
func Skipped(action types.Action, reason string) types.ActionResult {
	return types.ActionResult{
		ActionID:   action.ID,
		ActionType: action.Type,
		Status:     types.ActionSkipped,
		Error:      reason,
	}
}

// Dispatch executes one action and reports its outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, action types.Action, fields types.FieldMap) types.ActionResult {
	start := time.Now()
	result := types.ActionResult{ActionID: action.ID, ActionType: action.Type}

	fail := func(err error) types.ActionResult {
		result.Status = types.ActionFailed
		result.Err = err
		result.Error = err.Error()
		result.ErrorKind = types.KindOf(err)
		result.DurationMs = time.Since(start).Milliseconds()
		d.logger.Warn("action failed",
			"rule_id", target.RuleID,
			"record_id", target.RecordID,
			"action_id", action.ID,
			"type", action.Type,
			"attempts", result.Attempts,
			"error", err)
		return result
	}

	if action.Config == nil {
		return fail(&types.ConfigurationError{ActionType: action.Type, Reason: "config is missing or could not be decoded"})
	}
	if action.Config.ActionType() != action.Type {
		return fail(&types.ConfigurationError{
			ActionType: action.Type,
			Reason:     fmt.Sprintf("config is for %s", action.Config.ActionType()),
		})
	}

	renderer := rules.NewRenderer(fields)
	cfg := action.Config.Render(renderer.Render)
	for _, w := range renderer.Warnings() {
		result.Warnings = append(result.Warnings, w.Error())
		d.logger.Debug("missing template variable",
			"rule_id", target.RuleID, "action_id", action.ID, "variable", w.Name)
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	cfg = d.applyDefaults(cfg)

	if !d.handlers.configured(action.Type) {
		skipped := Skipped(action, fmt.Sprintf("no handler configured for %s", action.Type))
		skipped.Warnings = result.Warnings
		return skipped
	}

	call := d.prepare(target, cfg, fields)
	timeout := d.Timeout(action.Type)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output string
	op := func() error {
		result.Attempts++
		out, err := attempt(callCtx, call)
		if err == nil {
			output = out
			return nil
		}
		if !errors.Is(err, ErrTransient) || errors.Is(err, types.ErrConfiguration) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.RetryInitialDelay
	policy.MaxElapsedTime = 0
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.cfg.MaxAttempts-1)), callCtx)

	if err := backoff.Retry(op, retries); err != nil {
		return fail(d.classify(ctx, callCtx, action.Type, timeout, err))
	}

	result.Status = types.ActionSuccess
	result.Output = output
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// attempt runs one handler call in its own goroutine so a handler that does
// not watch ctx still cannot hold the action past its deadline. A call that
// outlives ctx keeps running in the background and its result is dropped.
func attempt(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := call(ctx)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// classify maps a handler or retry error onto the error taxonomy.
func (d *Dispatcher) classify(parent, callCtx context.Context, t types.ActionType, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%s: %w", t, parent.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return &types.TimeoutError{ActionType: t, Timeout: timeout}
	case errors.Is(err, types.ErrConfiguration):
		return err
	}
	var execErr *types.ActionExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &types.ActionExecutionError{ActionType: t, Err: err}
}

func (d *Dispatcher) applyDefaults(cfg types.ActionConfig) types.ActionConfig {
	switch c := cfg.(type) {
	case types.AIAnalysisConfig:
		if strings.TrimSpace(c.ModelID) == "" {
			c.ModelID = d.cfg.DefaultModel
		}
		return c
	case types.CustomWebhookConfig:
		c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
		if c.Method == "" {
			c.Method = http.MethodPost
		}
		return c
	default:
		return cfg
	}
}

// prepare binds cfg to its handler. The returned call is invoked once per
// attempt and reports the action's output text.
func (d *Dispatcher) prepare(target Target, cfg types.ActionConfig, fields types.FieldMap) func(context.Context) (string, error) {
	h := d.handlers
	switch c := cfg.(type) {
	case types.AIAnalysisConfig:
		return func(ctx context.Context) (string, error) {
			return h.AI.Complete(ctx, CompletionRequest{Prompt: c.Prompt, ModelID: c.ModelID, MaxTokens: c.MaxTokens})
		}

	case types.AddTagConfig:
		return func(ctx context.Context) (string, error) {
			return c.TagName, h.Tags.AddTag(ctx, target.Module, target.RecordID, c.TagName)
		}

	case types.SendNotificationConfig:
		n := Notification{
			ID:       types.NewItemID(),
			Module:   target.Module,
			RecordID: target.RecordID,
			RuleID:   target.RuleID,
			UserID:   c.UserID,
			Title:    c.Title,
			Message:  c.Message,
		}
		return func(ctx context.Context) (string, error) {
			return n.ID, h.Notifications.Notify(ctx, n)
		}

	case types.CreateTaskConfig:
		task := Task{
			ID:          types.NewItemID(),
			Module:      target.Module,
			RecordID:    target.RecordID,
			RuleID:      target.RuleID,
			Title:       c.Title,
			Description: c.Description,
			Priority:    c.Priority,
			DueInDays:   c.DueInDays,
		}
		return func(ctx context.Context) (string, error) {
			return h.Tasks.CreateTask(ctx, task)
		}

	case types.UpdateStatusConfig:
		return func(ctx context.Context) (string, error) {
			return c.Status, h.Status.UpdateStatus(ctx, target.Module, target.RecordID, c.Status)
		}

	case types.CustomWebhookConfig:
		req := WebhookRequest{
			URL:     c.URL,
			Method:  c.Method,
			Headers: c.Headers,
			Payload: WebhookPayload{
				Module:   target.Module,
				RecordID: target.RecordID,
				RuleID:   target.RuleID,
				RuleName: target.RuleName,
				Fields:   fields.Native(),
			},
		}
		return func(ctx context.Context) (string, error) {
			code, err := h.Webhooks.Send(ctx, req)
			if err != nil {
				return "", err
			}
			return "HTTP " + strconv.Itoa(code), nil
		}

	default:
		return func(context.Context) (string, error) {
			return "", &types.ConfigurationError{ActionType: cfg.ActionType(), Reason: "unsupported action type"}
		}
	}
}
