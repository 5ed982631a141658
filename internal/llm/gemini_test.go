package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *recordingSleeper) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sleeper := &recordingSleeper{}
	client := NewGeminiClient(GeminiConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Retry:   testPolicy(sleeper),
	})
	return client, sleeper
}

const okBody = `{"candidates":[{"content":{"parts":[{"text":"summary text"}]}}]}`

func TestGeminiGenerateSendsPromptAndInstruction(t *testing.T) {
	var got struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		SystemInstruction struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	}
	var path, key string
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.URL.Query().Get("key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, okBody)
	})

	text, err := client.Generate(context.Background(), Request{Prompt: "P", SystemInstruction: "S"})
	require.NoError(t, err)
	assert.Equal(t, "summary text", text)
	assert.Equal(t, "/v1beta/models/"+DefaultGeminiModel+":generateContent", path)
	assert.Equal(t, "test-key", key)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "P", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "S", got.SystemInstruction.Parts[0].Text)
}

func TestGeminiRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	client, sleeper := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, okBody)
	})

	text, err := client.Generate(context.Background(), Request{Prompt: "P"})
	require.NoError(t, err)
	assert.Equal(t, "summary text", text)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestGeminiRateLimitExhausted(t *testing.T) {
	var calls int32
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "P"})
	require.Error(t, err)
	var rme *RemoteModelError
	require.True(t, errors.As(err, &rme))
	assert.True(t, rme.Exhausted)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGeminiServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	client, sleeper := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "P"})
	require.Error(t, err)
	var rme *RemoteModelError
	require.True(t, errors.As(err, &rme))
	assert.Equal(t, http.StatusInternalServerError, rme.StatusCode)
	assert.Contains(t, rme.Body, "boom")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, sleeper.waits)
}

func TestGeminiEmptyResponses(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"no candidates", `{"candidates":[]}`, NoResponse},
		{"missing candidates", `{}`, NoResponse},
		{"no parts", `{"candidates":[{"content":{"parts":[]}}]}`, NoText},
		{"no text", `{"candidates":[{"content":{"parts":[{}]}}]}`, NoText},
		{"no content", `{"candidates":[{}]}`, NoText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tc.body)
			})
			text, err := client.Generate(context.Background(), Request{Prompt: "P"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, text)
		})
	}
}

func TestGeminiTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewGeminiClient(GeminiConfig{BaseURL: url, APIKey: "SECRET-KEY-123", Retry: testPolicy(&recordingSleeper{})})
	_, err := client.Generate(context.Background(), Request{Prompt: "P"})
	require.Error(t, err)
	assert.True(t, IsRemoteModelError(err))
	assert.False(t, IsRateLimited(err))
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
	assert.Contains(t, err.Error(), "key=REDACTED")
}

func TestGeminiDefaultSystemInstruction(t *testing.T) {
	var got struct {
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	}
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, okBody)
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "P"})
	require.NoError(t, err)
	require.NotNil(t, got.SystemInstruction)
	require.Len(t, got.SystemInstruction.Parts, 1)
	assert.Equal(t, DefaultSystemInstruction, got.SystemInstruction.Parts[0].Text)
}
