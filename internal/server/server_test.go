package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eztalk/eztalk-proxy/internal/config"
	"github.com/eztalk/eztalk-proxy/internal/models"
	"github.com/eztalk/eztalk-proxy/internal/websearch"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.MinContentFlushChunkSize = 20
	if mutate != nil {
		mutate(cfg)
	}
	search := websearch.NewClient(cfg.GoogleAPIKey, cfg.GoogleCSEID,
		cfg.SearchResultCount, cfg.SearchSnippetMaxLength)
	return New(cfg, search, nil)
}

func chatForm(t *testing.T, chatReq interface{}) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	raw, err := json.Marshal(chatReq)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("chat_request_json", string(raw)))
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postChat(t *testing.T, s *Server, chatReq interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := chatForm(t, chatReq)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEvents(t *testing.T, body string) []models.StreamEvent {
	t.Helper()
	var events []models.StreamEvent
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" {
			continue
		}
		var ev models.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line: %s", line)
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []models.StreamEvent) []string {
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func simpleChatRequest(model string) map[string]interface{} {
	return map[string]interface{}{
		"provider": "openai",
		"model":    model,
		"apiKey":   "sk-test",
		"messages": []map[string]interface{}{
			{"type": "simple_text_message", "role": "user", "content": "hi"},
		},
	}
}

func sseUpstream(t *testing.T, blocks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, block := range blocks {
			_, _ = w.Write([]byte("data: " + block + "\n\n"))
		}
	}))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestChat_MissingFormField(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(""))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_InvalidRequest(t *testing.T) {
	s := newTestServer(t, nil)
	rec := postChat(t, s, map[string]interface{}{"provider": "openai"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid chat request data")
}

func TestChat_OpenAIHappyPath(t *testing.T) {
	upstream := sseUpstream(t,
		`{"choices":[{"delta":{"role":"assistant","content":"Hello"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = upstream.URL
	})
	rec := postChat(t, s, simpleChatRequest("gpt-4o"))
	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeEvents(t, rec.Body.String())
	require.Equal(t, []string{"content", "finish"}, eventTypes(events))
	assert.Equal(t, "Hello", events[0].Text)
	assert.Equal(t, "stop", events[1].Reason)
	assert.NotEmpty(t, events[1].Timestamp)
}

func TestChat_OpenAIDoneWithoutFinishReason(t *testing.T) {
	upstream := sseUpstream(t,
		`{"choices":[{"delta":{"content":"partial"}}]}`,
		`[DONE]`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = upstream.URL
	})
	rec := postChat(t, s, simpleChatRequest("gpt-4o"))

	events := decodeEvents(t, rec.Body.String())
	require.Equal(t, []string{"content", "finish"}, eventTypes(events))
	assert.Equal(t, models.FinishStreamEnd, events[1].Reason)
}

func TestChat_OpenAIReasoningThenContent(t *testing.T) {
	upstream := sseUpstream(t,
		`{"choices":[{"delta":{"reasoning_content":"thinking hard"}}]}`,
		`{"choices":[{"delta":{"content":"The answer is 42."}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = upstream.URL
	})
	rec := postChat(t, s, simpleChatRequest("deepseek-reasoner"))

	events := decodeEvents(t, rec.Body.String())
	types := eventTypes(events)
	require.Equal(t, []string{"reasoning", "reasoning_finish", "content", "finish"}, types)
	assert.Equal(t, "thinking hard", events[0].Text)
	assert.Equal(t, "The answer is 42.", events[2].Text)
}

func TestChat_OpenAIInlineThinkTags(t *testing.T) {
	upstream := sseUpstream(t,
		`{"choices":[{"delta":{"content":"<think>pondering</think>Result text here ok."}}]}`,
		`[DONE]`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = upstream.URL
	})
	rec := postChat(t, s, simpleChatRequest("some-model"))

	events := decodeEvents(t, rec.Body.String())
	types := eventTypes(events)
	require.Equal(t, []string{"reasoning", "reasoning_finish", "content", "finish"}, types)
	assert.Equal(t, "pondering", events[0].Text)
	assert.Equal(t, "Result text here ok.", events[2].Text)
}

func TestChat_UpstreamHTTPError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = upstream.URL
	})
	rec := postChat(t, s, simpleChatRequest("gpt-4o"))

	events := decodeEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "finish", events[0].Type)
	assert.Equal(t, models.FinishUpstreamError, events[0].Reason)
}

func TestChat_UpstreamUnreachable(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = "http://127.0.0.1:1"
	})
	rec := postChat(t, s, simpleChatRequest("gpt-4o"))

	events := decodeEvents(t, rec.Body.String())
	types := eventTypes(events)
	require.Equal(t, []string{"error", "finish"}, types)
	assert.Equal(t, models.FinishErrorInStream, events[1].Reason)
	assert.NotContains(t, events[0].Message, "goroutine", "no stack traces on the wire")
}

func TestChat_ExactlyOneFinishOnErrorPath(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = "http://127.0.0.1:1"
	})
	rec := postChat(t, s, simpleChatRequest("gpt-4o"))

	finishes := 0
	for _, ev := range decodeEvents(t, rec.Body.String()) {
		if ev.Type == "finish" {
			finishes++
		}
	}
	assert.Equal(t, 1, finishes)
}

func TestChat_MalformedFramesSkipped(t *testing.T) {
	upstream := sseUpstream(t,
		`{not json`,
		`{"choices":[{"delta":{"content":"still fine after bad frame"}}]}`,
		`[DONE]`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = upstream.URL
	})
	rec := postChat(t, s, simpleChatRequest("gpt-4o"))

	events := decodeEvents(t, rec.Body.String())
	require.Equal(t, []string{"content", "finish"}, eventTypes(events))
	assert.Equal(t, "still fine after bad frame", events[0].Text)
}

func geminiChatRequest() map[string]interface{} {
	req := simpleChatRequest("gemini-2.5-flash")
	req["provider"] = "google"
	return req
}

func geminiUpstream(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte("data: " + line + "\n"))
		}
	}))
}

func TestChat_GeminiThoughtAndAnswer(t *testing.T) {
	upstream := geminiUpstream(t,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"planning","thought":true}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Final answer body."}]},"finishReason":"STOP"}]}`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.GoogleAPIBaseURL = upstream.URL
	})
	rec := postChat(t, s, geminiChatRequest())

	events := decodeEvents(t, rec.Body.String())
	types := eventTypes(events)
	require.Equal(t, []string{"reasoning", "reasoning_finish", "content", "finish"}, types)
	assert.Equal(t, "planning", events[0].Text)
	assert.Equal(t, "Final answer body.", events[2].Text)
	assert.Equal(t, "STOP", events[3].Reason)
}

func TestChat_GeminiCitationsAnnotated(t *testing.T) {
	upstream := geminiUpstream(t,
		`{"candidates":[{"content":{"parts":[{"text":"Go is popular."}]},"groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://src.example","title":"Src"}}],"groundingSupports":[{"segment":{"endIndex":14},"groundingChunkIndices":[0]}]}}]}`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.GoogleAPIBaseURL = upstream.URL
	})
	rec := postChat(t, s, geminiChatRequest())

	events := decodeEvents(t, rec.Body.String())
	types := eventTypes(events)
	require.Equal(t, []string{"content", "annotated_content", "finish"}, types)
	assert.Equal(t, "Go is popular.", events[0].Text)
	assert.Equal(t, "Go is popular.[1](https://src.example)", events[1].Text)
	assert.Equal(t, models.FinishStreamEnd, events[2].Reason)
}

func TestChat_WebSearchStatusEvents(t *testing.T) {
	searchUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"title":"T","link":"https://s.example","snippet":"snip"}]}`))
	}))
	defer searchUpstream.Close()

	var upstreamBody []byte
	llmUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = func() ([]byte, error) {
			buf := new(bytes.Buffer)
			_, err := buf.ReadFrom(r.Body)
			return buf.Bytes(), err
		}()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"answer\"},\"finish_reason\":\"stop\"}]}\n\n"))
	}))
	defer llmUpstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = llmUpstream.URL
		cfg.GoogleAPIKey = "k"
		cfg.GoogleCSEID = "c"
	})
	s.search.Endpoint = searchUpstream.URL

	req := simpleChatRequest("gpt-4o")
	req["use_web_search"] = true
	rec := postChat(t, s, req)

	events := decodeEvents(t, rec.Body.String())
	types := eventTypes(events)
	require.Equal(t, []string{"status_update", "web_search_results", "status_update", "content", "finish"}, types)
	assert.Equal(t, "Searching web...", events[0].Stage)
	require.Len(t, events[1].Results, 1)
	assert.Equal(t, "https://s.example", events[1].Results[0].Href)

	assert.Contains(t, string(upstreamBody), "DO NOT include any inline citation marks")
}

func TestUpdateConfig_ConcurrentWithRequests(t *testing.T) {
	upstream := sseUpstream(t,
		`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
		`[DONE]`,
	)
	defer upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultOpenAIBaseURL = upstream.URL
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			cfg := config.Default()
			cfg.DefaultOpenAIBaseURL = upstream.URL
			cfg.GoogleAPIKey = "rotated"
			s.UpdateConfig(cfg)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			rec := postChat(t, s, simpleChatRequest("gpt-4o"))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	}()
	wg.Wait()

	assert.Equal(t, "rotated", s.config().GoogleAPIKey)
}

func TestUsageStats_DisabledWithoutStore(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/usage/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
