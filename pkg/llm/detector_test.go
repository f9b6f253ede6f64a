package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plagcheck-go/internal/config"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat["type"])
		assert.LessOrEqual(t, len([]rune(req.Messages[1].Content)), maxInputRunes+len([]rune(userPromptTemplate)))

		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"content": content}}},
			})
		}
	}))
}

func newTestDetector(url string) *Detector {
	return NewDetector(config.AIConfig{APIKey: "k", BaseURL: url, Model: "judge", Timeout: 5 * time.Second})
}

func TestDetector_Detect(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"score": 0.9, "reasoning": "uniform style"}`)
	defer srv.Close()

	got, err := newTestDetector(srv.URL).Detect(context.Background(), strings.Repeat("字", 5000), 0.5)
	require.NoError(t, err)
	assert.True(t, got.IsAI)
	assert.Equal(t, 0.9, got.Score)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, "api", got.Provider)
	assert.Equal(t, "judge", got.Details["model"])
}

func TestDetector_BelowThreshold(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"score": 0.2}`)
	defer srv.Close()

	got, err := newTestDetector(srv.URL).Detect(context.Background(), "hello", 0.5)
	require.NoError(t, err)
	assert.False(t, got.IsAI)
	assert.Equal(t, 0.6, got.Confidence)
}

func TestDetector_Unavailable(t *testing.T) {
	d := NewDetector(config.AIConfig{})
	assert.False(t, d.Available())
	assert.Equal(t, "unavailable", d.Health().Status)
	_, err := d.Detect(context.Background(), "x", 0.5)
	assert.ErrorIs(t, err, ErrUnavailable)

	srv := chatServer(t, http.StatusServiceUnavailable, "")
	defer srv.Close()
	_, err = newTestDetector(srv.URL).Detect(context.Background(), "x", 0.5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDetector_BadVerdictIsNotUnavailable(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "not json")
	defer srv.Close()

	_, err := newTestDetector(srv.URL).Detect(context.Background(), "x", 0.5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
