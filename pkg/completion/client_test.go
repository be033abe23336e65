package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Auth  string
	Model string
	Body  map[string]any
}

// fakeAPI answers chat completion requests through handle and records them.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, req recordedRequest)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	model, _ := body["model"].(string)

	req := recordedRequest{Auth: r.Header.Get("Authorization"), Model: model, Body: body}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	f.handle(w, req)
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
	})
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": http.StatusText(status), "type": "test_error"},
	})
}

func newTestClient(t *testing.T, keys string, models []string, api *fakeAPI) *Client {
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return NewClient(keys, Options{
		BaseURL:     server.URL,
		Models:      models,
		Temperature: 0.9,
		TopP:        1,
		MaxTokens:   256,
		Timeout:     5 * time.Second,
	})
}

func TestComplete_Success(t *testing.T) {
	api := &fakeAPI{handle: func(w http.ResponseWriter, _ recordedRequest) {
		writeCompletion(w, "你好呀")
	}}
	client := newTestClient(t, "k1", []string{"model-a"}, api)

	got, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "看看这个", ImageURL: "https://example.com/cat.png"},
	})

	require.NoError(t, err)
	assert.Equal(t, "你好呀", got)
	require.Len(t, api.requests, 1)
	req := api.requests[0]
	assert.Equal(t, "Bearer k1", req.Auth)
	assert.Equal(t, "model-a", req.Model)

	messages, ok := req.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 4)
	last := messages[3].(map[string]any)
	parts, ok := last["content"].([]any)
	require.True(t, ok, "image turns are sent as content parts")
	assert.Len(t, parts, 2)
}

func TestComplete_RotatesKeyOnAuthFailure(t *testing.T) {
	api := &fakeAPI{handle: func(w http.ResponseWriter, req recordedRequest) {
		if req.Auth == "Bearer bad" {
			writeError(w, http.StatusUnauthorized)
			return
		}
		writeCompletion(w, "ok")
	}}
	client := newTestClient(t, "bad, good", []string{"model-a"}, api)

	got, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	require.Len(t, api.requests, 2)

	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "again"}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer good", api.requests[2].Auth, "the failing key is deprioritised")
}

func TestComplete_FallsBackToNextModel(t *testing.T) {
	api := &fakeAPI{handle: func(w http.ResponseWriter, req recordedRequest) {
		if req.Model == "broken" {
			writeError(w, http.StatusInternalServerError)
			return
		}
		writeCompletion(w, "from fallback")
	}}
	client := newTestClient(t, "k1", []string{"broken", "working"}, api)

	got, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "from fallback", got)
	require.Len(t, api.requests, 2, "no automatic retries of the same model")
}

func TestComplete_AllModelsFail(t *testing.T) {
	api := &fakeAPI{handle: func(w http.ResponseWriter, _ recordedRequest) {
		writeError(w, http.StatusBadGateway)
	}}
	client := newTestClient(t, "k1", []string{"m1"}, api)

	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestComplete_EmptyContent(t *testing.T) {
	api := &fakeAPI{handle: func(w http.ResponseWriter, _ recordedRequest) {
		writeCompletion(w, "   ")
	}}
	client := newTestClient(t, "k1", []string{"m1"}, api)

	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestComplete_NoKeys(t *testing.T) {
	client := NewClient(" , ", Options{Models: []string{"m"}})

	_, err := client.Complete(context.Background(), nil)

	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestComplete_RespectsCancellation(t *testing.T) {
	api := &fakeAPI{handle: func(w http.ResponseWriter, _ recordedRequest) {
		time.Sleep(200 * time.Millisecond)
		writeCompletion(w, "late")
	}}
	client := newTestClient(t, "k1", []string{"m1", "m2"}, api)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, []Message{{Role: RoleUser, Content: "hi"}})

	require.Error(t, err)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.LessOrEqual(t, len(api.requests), 1, "a cancelled call does not fall through to the next model")
}
