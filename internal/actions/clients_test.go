package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/rulekeeper/internal/types"
)

func TestHTTPWebhookClient_Send(t *testing.T) {
	var gotMethod, gotAuth, gotType string
	var gotPayload WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewHTTPWebhookClient(nil, time.Second)
	code, err := c.Send(context.Background(), WebhookRequest{
		URL:     srv.URL,
		Method:  http.MethodPut,
		Headers: map[string]string{"Authorization": "Bearer secret"},
		Payload: WebhookPayload{Module: types.ModuleDeals, RecordID: "d1", Fields: map[string]any{"value": 10.0}},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, types.RecordID("d1"), gotPayload.RecordID)
	assert.Equal(t, 10.0, gotPayload.Fields["value"])
}

func TestHTTPWebhookClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "server error", status: http.StatusBadGateway, wantTransient: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "client error", status: http.StatusBadRequest, wantTransient: false},
		{name: "not found", status: http.StatusNotFound, wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			code, err := NewHTTPWebhookClient(nil, time.Second).Send(context.Background(), WebhookRequest{URL: srv.URL})
			require.Error(t, err)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.wantTransient, errors.Is(err, ErrTransient))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestDispatch_WebhookRetriedThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Handlers{Webhooks: NewHTTPWebhookClient(srv.Client(), time.Second)}, fastConfig())
	result := d.Dispatch(context.Background(), testTarget,
		types.Action{ID: "w", Type: types.ActionCustomWebhook, Config: types.CustomWebhookConfig{URL: srv.URL}}, testFields)

	assert.Equal(t, types.ActionSuccess, result.Status, result.Error)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "HTTP 200", result.Output)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		if len(body.Messages) > 0 {
			gotPrompt = body.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  Likely to close.  "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL + "/", Timeout: time.Second})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), CompletionRequest{Prompt: "Assess Acme", ModelID: "gpt-3.5-turbo"})
	require.NoError(t, err)
	assert.Equal(t, "Likely to close.", out)
	assert.Equal(t, "gpt-3.5-turbo", gotModel)
	assert.Equal(t, "Assess Acme", gotPrompt)
}

func TestOpenAIProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "server error", status: http.StatusInternalServerError, wantTransient: true},
		{name: "bad request", status: http.StatusBadRequest, wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "invalid_request_error"}}`))
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Timeout: time.Second})
			require.NoError(t, err)

			_, err = p.Complete(context.Background(), CompletionRequest{Prompt: "x", ModelID: "m"})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, errors.Is(err, ErrTransient))
		})
	}
}

func TestNewOpenAIProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.Error(t, err)
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSNotifier_Notify(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "")

	err := n.Notify(context.Background(), Notification{ID: "n1", Module: types.ModuleTasks, Title: "Due", Message: "Soon"})
	require.NoError(t, err)
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "rulekeeper.notifications.tasks", pub.subjects[0])

	var decoded Notification
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, "Due", decoded.Title)
}

func TestNATSNotifier_ErrorClassification(t *testing.T) {
	closed := NewNATSNotifier(&fakePublisher{err: nats.ErrConnectionClosed}, "p")
	err := closed.Notify(context.Background(), Notification{Module: types.ModuleDeals})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransient))

	flaky := NewNATSNotifier(&fakePublisher{err: nats.ErrReconnectBufExceeded}, "p")
	err = flaky.Notify(context.Background(), Notification{Module: types.ModuleDeals})
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestFanoutNotifier(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	err := FanoutNotifier{first, second}.Notify(context.Background(), Notification{ID: "n1"})
	require.NoError(t, err)
	assert.Len(t, first.notifications, 1)
	assert.Len(t, second.notifications, 1)

	failing := &recorder{failures: []error{errors.New("db down")}}
	third := &recorder{}
	err = FanoutNotifier{failing, third}.Notify(context.Background(), Notification{ID: "n2"})
	assert.Error(t, err)
	assert.Empty(t, third.notifications)
}
