package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise-scraper/models"
)

func TestRulePolicy(t *testing.T) {
	p := NewRulePolicy("https://c.example.com/search?lang=en")
	q := models.Query{Destination: "Alaska", Tags: []string{"family"}}

	d, err := p.Decide(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "api", d.AdapterName)
	assert.Equal(t, q.Args(), d.AdapterArgs)

	fb, ok := p.Fallback(context.Background(), q, d)
	require.True(t, ok)
	assert.Equal(t, "scraper", fb.AdapterName)
	assert.Equal(t, "https://c.example.com/search?lang=en&destination=Alaska&tags=family", fb.AdapterArgs["url"])

	back, ok := p.Fallback(context.Background(), q, fb)
	require.True(t, ok, "scraper-first decisions fall back to the api")
	assert.Equal(t, "api", back.AdapterName)
	assert.Equal(t, q.Args(), back.AdapterArgs)
}

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestLLMPolicy(srv *httptest.Server) *LLMPolicy {
	return NewLLMPolicy(LLMOptions{
		APIKey:  "test",
		BaseURL: srv.URL + "/v1/",
		Model:   "test",
		Rule:    NewRulePolicy("https://c.example.com/search"),
	})
}

func TestLLMPolicyUsesModelAnswer(t *testing.T) {
	srv := chatServer(t, "```json\n{\"adapterName\":\"scraper\",\"adapterArgs\":{\"url\":\"/deals\"}}\n```", http.StatusOK)

	d, err := newTestLLMPolicy(srv).Decide(context.Background(), models.Query{Destination: "Alaska"})
	require.NoError(t, err)
	assert.Equal(t, "scraper", d.AdapterName)
	assert.Equal(t, "/deals", d.AdapterArgs["url"])
}

func TestLLMPolicyFallsBackToRule(t *testing.T) {
	cases := map[string]*httptest.Server{
		"unknown adapter": chatServer(t, `{"adapterName":"fax"}`, http.StatusOK),
		"not json":        chatServer(t, "use the api", http.StatusOK),
		"server error":    chatServer(t, "", http.StatusBadRequest),
	}
	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := newTestLLMPolicy(srv).Decide(context.Background(), models.Query{Destination: "Alaska"})
			require.NoError(t, err)
			assert.Equal(t, "api", d.AdapterName)
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(` {"a":1} `))
}
