package decision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletionBody(content string) string {
	quoted, _ := json.Marshal(content)
	return `{"id":"1","object":"chat.completion","created":1,"model":"test",` +
		`"choices":[{"index":0,"message":{"role":"assistant","content":` +
		string(quoted) + `},"finish_reason":"stop"}]}`
}

func TestProviderParsesCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionBody(`{"action": "eat", "target": "restaurant", "emotion": "content"}`)))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{
		APIKey:  "test",
		BaseURL: srv.URL,
		Model:   "test",
		Timeout: time.Second,
	})

	res, err := p.Decide(context.Background(), decisionRequest("Alice"))
	require.NoError(t, err)
	assert.Equal(t, "eat", res.Action)
	assert.Equal(t, "restaurant", res.Target)
	assert.Equal(t, "content", res.Emotion)
}

func TestProviderHonorsConfiguredTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := NewOpenAIProvider(config.ProviderConfig{
		APIKey:  "test",
		BaseURL: srv.URL,
		Model:   "test",
		Timeout: 50 * time.Millisecond,
	})

	start := time.Now()
	_, err := p.Decide(context.Background(), decisionRequest("Alice"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var perr *interfaces.ProviderError
	assert.True(t, errors.As(err, &perr))
}
