// Package mockendpoint serves a fake Neuron inference container for tests
// and local development. It speaks TGI generate / generate_stream and the
// OpenAI chat completions API, and splits every streamed frame over
// several writes so clients must reassemble lines.
package mockendpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// Server is the mock inference server
type Server struct {
	state  *State
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new mock endpoint server
func NewServer(state *State) *Server {
	if state == nil {
		state = NewState()
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		state:  state,
		router: router,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}

	s.setupRoutes()
	return s
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// State returns the underlying state for test manipulation
func (s *Server) State() *State {
	return s.state
}

func (s *Server) setupRoutes() {
	s.router.POST("/generate", s.handleGenerate)
	s.router.POST("/generate_stream", s.handleGenerateStream)
	s.router.POST("/v1/chat/completions", s.handleChatCompletions)

	s.router.GET("/health", s.handleHealth)

	// Test control endpoints
	s.router.POST("/_test/reset", s.handleTestReset)
	s.router.POST("/_test/config", s.handleTestConfig)
}

// GenerateParameters matches the TGI parameters object
type GenerateParameters struct {
	MaxNewTokens int `json:"max_new_tokens"`
}

// GenerateRequest matches the TGI request body
type GenerateRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters GenerateParameters `json:"parameters"`
	Stream     bool               `json:"stream"`
}

// Token matches a TGI stream token
type Token struct {
	ID      int     `json:"id"`
	Text    string  `json:"text"`
	LogProb float64 `json:"logprob"`
	Special bool    `json:"special"`
}

// StreamResponse matches a TGI stream frame
type StreamResponse struct {
	Token         Token   `json:"token"`
	GeneratedText *string `json:"generated_text"`
}

// ChatMessage matches an OpenAI chat message
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest matches the OpenAI chat completions request
type ChatRequest struct {
	Messages      []ChatMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens"`
	Stream        bool          `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

// Usage matches the OpenAI usage object
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChoice matches a streamed or complete choice
type ChatChoice struct {
	Index        int          `json:"index"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	Message      *ChatMessage `json:"message,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// ChatResponse matches both chat.completion and chat.completion.chunk objects
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

const mockModel = "mock-neuron-model"

func maxTokens(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}

// fail writes the configured failure, if any
func (s *Server) fail(c *gin.Context) bool {
	s.state.record(c.Request.URL.Path)
	status, msg := s.state.failure()
	if status == 0 {
		return false
	}
	c.JSON(status, gin.H{"error": msg, "error_type": "mock"})
	return true
}

func (s *Server) handleGenerate(c *gin.Context) {
	if s.fail(c) {
		return
	}
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "error_type": "validation"})
		return
	}

	text := ""
	for _, tok := range s.state.Tokens(maxTokens(req.Parameters.MaxNewTokens)) {
		text += tok
	}
	c.JSON(http.StatusOK, gin.H{"generated_text": text})
}

func (s *Server) handleGenerateStream(c *gin.Context) {
	if s.fail(c) {
		return
	}
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "error_type": "validation"})
		return
	}

	w := s.newFrameWriter(c, "data:")
	tokens := s.state.Tokens(maxTokens(req.Parameters.MaxNewTokens))
	text := ""
	for i, tok := range tokens {
		text += tok
		if !w.json(StreamResponse{Token: Token{ID: i + 1, Text: tok, LogProb: -0.25}}) {
			return
		}
	}

	final := text
	w.json(StreamResponse{
		Token:         Token{ID: 2, Text: "</s>", Special: true},
		GeneratedText: &final,
	})
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	if s.fail(c) {
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var prompt []string
	for _, m := range req.Messages {
		prompt = append(prompt, m.Content)
	}
	tokens := s.state.Tokens(maxTokens(req.MaxTokens))
	usage := &Usage{
		PromptTokens:     CountTokens(prompt...),
		CompletionTokens: len(tokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	id := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	stop := "stop"

	if !req.Stream {
		text := ""
		for _, tok := range tokens {
			text += tok
		}
		c.JSON(http.StatusOK, ChatResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   mockModel,
			Choices: []ChatChoice{{
				Message:      &ChatMessage{Role: "assistant", Content: text},
				FinishReason: &stop,
			}},
			Usage: usage,
		})
		return
	}

	w := s.newFrameWriter(c, "data: ")
	chunk := func(choices []ChatChoice, u *Usage) ChatResponse {
		return ChatResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   mockModel,
			Choices: choices,
			Usage:   u,
		}
	}

	for i, tok := range tokens {
		choice := ChatChoice{Delta: &ChatMessage{Role: "assistant", Content: tok}}
		if i == len(tokens)-1 {
			choice.FinishReason = &stop
		}
		if !w.json(chunk([]ChatChoice{choice}, nil)) {
			return
		}
	}
	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		if !w.json(chunk([]ChatChoice{}, usage)) {
			return
		}
	}
	w.raw("[DONE]")
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "mock-neuron-endpoint",
	})
}

// Test control handlers

func (s *Server) handleTestReset(c *gin.Context) {
	s.state.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// TestConfig is the configuration for test behavior
type TestConfig struct {
	TokenDelayMs *int   `json:"token_delay_ms"`
	FragmentSize *int   `json:"fragment_size"`
	FailStatus   int    `json:"fail_status"`
	FailMessage  string `json:"fail_message"`
	Text         string `json:"text"`
}

func (s *Server) handleTestConfig(c *gin.Context) {
	var config TestConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if config.TokenDelayMs != nil {
		s.state.SetTokenDelay(time.Duration(*config.TokenDelayMs) * time.Millisecond)
	}
	if config.FragmentSize != nil {
		s.state.SetFragmentSize(*config.FragmentSize)
	}
	if config.Text != "" {
		s.state.SetText(config.Text)
	}
	s.state.SetFailure(config.FailStatus, config.FailMessage)

	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

// frameWriter writes server-sent-event data frames in fragments, flushing after each one
type frameWriter struct {
	c        *gin.Context
	prefix   string
	delay    time.Duration
	fragment int
	first    bool
}

func (s *Server) newFrameWriter(c *gin.Context, prefix string) *frameWriter {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	return &frameWriter{
		c:        c,
		prefix:   prefix,
		delay:    s.state.delay(),
		fragment: s.state.fragment(),
		first:    true,
	}
}

func (w *frameWriter) json(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return w.raw(string(b))
}

// raw writes one frame; it reports false once the client has gone away
func (w *frameWriter) raw(data string) bool {
	if !w.first && w.delay > 0 {
		select {
		case <-w.c.Request.Context().Done():
			return false
		case <-time.After(w.delay):
		}
	}
	w.first = false

	frame := []byte(w.prefix + data + "\n\n")
	step := w.fragment
	if step <= 0 {
		step = len(frame)
	}
	for len(frame) > 0 {
		n := min(step, len(frame))
		if _, err := w.c.Writer.Write(frame[:n]); err != nil {
			return false
		}
		w.c.Writer.Flush()
		frame = frame[n:]
	}
	return w.c.Request.Context().Err() == nil
}

// Run starts the server on the specified address
func (s *Server) Run(addr string) error {
	s.logger.Info("starting mock endpoint server", "addr", addr)
	return s.router.Run(addr)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
