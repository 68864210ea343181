package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func TestDisabledReturnsUnavailable(t *testing.T) {
	_, err := Disabled{}.Complete(context.Background(), Request{Prompt: "x"})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestCompleteSendsDeterministicRequest(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(chatReply("ok")))
	}))
	defer server.Close()

	c := New(server.URL, "test-key", "test-model", time.Second)
	out, err := c.Complete(context.Background(), Request{
		System:     "be terse",
		Prompt:     "hello",
		JSONObject: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	assert.Equal(t, "test-model", got.Model)
	assert.Zero(t, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, map[string]any{"type": "json_object"}, got.ResponseFormat)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(chatReply("recovered")))
	}))
	defer server.Close()

	c := New(server.URL, "", "", time.Second)
	out, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	c := New(server.URL, "", "", time.Second)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(server.URL, "", "", time.Second)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\nhello\n```", "hello"},
		{"  ```json\n[1,2]\n```  ", "[1,2]"},
		{"{\"a\":1}", `{"a":1}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StripFences(tc.in), "input %q", tc.in)
	}
}
