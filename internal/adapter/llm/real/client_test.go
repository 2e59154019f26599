package real

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

func testBackoffConfig() (time.Duration, time.Duration, time.Duration, float64) {
	return 2 * time.Second, 10 * time.Millisecond, 50 * time.Millisecond, 2.0
}

func TestComplete_SuccessfulResponse_ReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"xin chào"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "gpt-test", 5*time.Second, testBackoffConfig)
	res, err := c.Complete(t.Context(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "xin chào", res.Text)
	assert.Equal(t, 5, res.PromptTokens)
}

func TestComplete_ToolCallResponse_DecodesArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"query_rows","arguments":"{\"limit\":5}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "m", 5*time.Second, testBackoffConfig)
	res, err := c.Complete(t.Context(), []domain.Message{{Role: domain.RoleUser, Content: "data?"}}, []domain.ToolSpec{{Name: "query_rows"}})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "query_rows", res.ToolCalls[0].Name)
	assert.Equal(t, float64(5), res.ToolCalls[0].Args["limit"])
}

func TestComplete_ClientError_DoesNotRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "m", 5*time.Second, testBackoffConfig)
	_, err := c.Complete(t.Context(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestComplete_ServerError_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "m", 5*time.Second, testBackoffConfig)
	res, err := c.Complete(t.Context(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestStream_ForwardsDeltasAndFinalText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"xin \"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"chào\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "m", 5*time.Second, testBackoffConfig)
	ch, err := c.Stream(t.Context(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	var text string
	var gotDone bool
	for chunk := range ch {
		text += chunk.TokenDelta
		if chunk.Done {
			gotDone = true
			assert.Equal(t, "xin chào", chunk.Final.Text)
		}
	}
	assert.Equal(t, "xin chào", text)
	assert.True(t, gotDone)
}
