package mockendpoint

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func dataLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data:") {
			out = append(out, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return out
}

func TestState_Tokens(t *testing.T) {
	state := NewState()
	state.SetText("one two three")

	assert.Equal(t, []string{"one", " two", " three", " one"}, state.Tokens(4))
	assert.Nil(t, state.Tokens(0))
	assert.Equal(t, 5, CountTokens("Speak in a", "Medieval style"))
}

func TestServer_Health(t *testing.T) {
	s := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mock-neuron-endpoint")
}

func TestServer_Generate(t *testing.T) {
	s := NewServer(nil)
	s.State().SetText("hello world")

	w := post(t, s, "/generate", `{"inputs":"hi","parameters":{"max_new_tokens":3}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello world hello", resp["generated_text"])
	assert.Equal(t, 1, s.State().Requests("/generate"))
}

func TestServer_GenerateStream(t *testing.T) {
	s := NewServer(nil)
	s.State().SetText("a b")

	w := post(t, s, "/generate_stream", `{"inputs":"hi","parameters":{"max_new_tokens":2},"stream":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	lines := dataLines(w.Body.String())
	require.Len(t, lines, 3)

	var first, last StreamResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "a", first.Token.Text)
	assert.Nil(t, first.GeneratedText)
	assert.True(t, last.Token.Special)
	require.NotNil(t, last.GeneratedText)
	assert.Equal(t, "a b", *last.GeneratedText)
}

func TestServer_ChatStream(t *testing.T) {
	s := NewServer(nil)
	s.State().SetText("x y z")

	body := `{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hello there"}],
		"max_tokens":3,"stream":true,"stream_options":{"include_usage":true}}`
	w := post(t, s, "/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, w.Code)

	lines := dataLines(w.Body.String())
	require.Len(t, lines, 5)
	assert.Equal(t, "[DONE]", lines[4])

	var usage ChatResponse
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &usage))
	assert.Empty(t, usage.Choices)
	require.NotNil(t, usage.Usage)
	assert.Equal(t, 4, usage.Usage.PromptTokens)
	assert.Equal(t, 3, usage.Usage.CompletionTokens)
	assert.Equal(t, 7, usage.Usage.TotalTokens)
}

func TestServer_ChatWithoutUsage(t *testing.T) {
	s := NewServer(nil)
	w := post(t, s, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}],"max_tokens":2,"stream":true}`)
	lines := dataLines(w.Body.String())
	require.Len(t, lines, 3)
	assert.Equal(t, "[DONE]", lines[2])
}

func TestServer_ChatNonStreaming(t *testing.T) {
	s := NewServer(nil)
	s.State().SetText("fine")
	w := post(t, s, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}],"max_tokens":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "fine fine", resp.Choices[0].Message.Content)
	assert.Equal(t, "chat.completion", resp.Object)
}

func TestServer_TestConfig(t *testing.T) {
	s := NewServer(nil)

	w := post(t, s, "/_test/config", `{"fail_status":503,"fail_message":"overloaded","fragment_size":0}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = post(t, s, "/generate_stream", `{"inputs":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "overloaded")

	w = post(t, s, "/_test/reset", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = post(t, s, "/generate_stream", `{"inputs":"hi","parameters":{"max_new_tokens":1}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.State().Requests("/generate_stream"))
}

func TestServer_BadRequest(t *testing.T) {
	s := NewServer(nil)
	w := post(t, s, "/generate", `{not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
