package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatBody struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func TestOpenAIClientProcess(t *testing.T) {
	t.Parallel()
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4.1-nano",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Respuesta de respaldo"}}]
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient("sk-test", "gpt-4.1-nano",
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	now := time.Now()
	reply, err := client.Process(context.Background(), Request{
		Text:   "¿cuánto tarda una tutela?",
		Expert: tutela,
		History: []domain.Message{
			domain.NewMessage(domain.RoleUser, "antes", "tutela", now),
			domain.NewMessage(domain.RoleAssistant, "respuesta previa", "tutela", now),
			domain.NewMessage(domain.RoleUser, "de otro experto", "tributaria", now),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Respuesta de respaldo", reply)

	assert.Equal(t, "gpt-4.1-nano", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, 2000, got.MaxTokens)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Eres un asistente virtual experto en TutelaBot.")
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "¿cuánto tarda una tutela?", got.Messages[3].Content)
}

func TestNewOpenAIClientValidates(t *testing.T) {
	t.Parallel()
	_, err := NewOpenAIClient("", "m")
	assert.Error(t, err)
	_, err = NewOpenAIClient("k", "")
	assert.Error(t, err)
}
