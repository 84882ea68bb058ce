// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// chatRequest captures the fields of a chat completions request the tests
// care about.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature         float32  `json:"temperature"`
	TopP                float32  `json:"top_p"`
	MaxCompletionTokens int      `json:"max_completion_tokens"`
	Stop                []string `json:"stop"`
}

// newMockCompletionServer returns a server that answers /chat/completions
// with the given content and records the last decoded request.
func newMockCompletionServer(t *testing.T, content string, lastReq *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if lastReq != nil {
			if err := json.NewDecoder(r.Body).Decode(lastReq); err != nil {
				t.Errorf("decoding request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
}

// newTestClient builds a client pointed at the mock server with a limiter
// generous enough to never block in tests.
func newTestClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{
		APIKey:            "test-key",
		Model:             "test-model",
		BaseURL:           baseURL,
		RequestsPerMinute: 6000,
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return c
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewOpenAIClient_ExplicitConfig(t *testing.T) {
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	if c.model != "m" {
		t.Errorf("model = %q, want %q", c.model, "m")
	}
	if got := c.limiter.Burst(); got != defaultRequestsPerMinute {
		t.Errorf("limiter burst = %d, want %d", got, defaultRequestsPerMinute)
	}
}

func TestNewOpenAIClient_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_MODEL", "env-model")

	c, err := NewOpenAIClient(OpenAIConfig{})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	if c.model != "env-model" {
		t.Errorf("model = %q, want %q", c.model, "env-model")
	}
}

func TestNewOpenAIClient_DefaultModel(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "")

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	if c.model != "gpt-4o-mini" {
		t.Errorf("model = %q, want default gpt-4o-mini", c.model)
	}
}

func TestNewOpenAIClient_MissingKey(t *testing.T) {
	if _, err := os.Stat("/run/secrets/openai_api_key"); err == nil {
		t.Skip("container secret present, missing-key path not reachable")
	}
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Fatal("expected an error when no API key is available")
	}
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestGenerate_ReturnsContent(t *testing.T) {
	var req chatRequest
	server := newMockCompletionServer(t, "1. Burnout from sustained overwork", &req)
	defer server.Close()

	c := newTestClient(t, server.URL)
	got, err := c.Generate(context.Background(), "narrative goes here", GenerationParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "1. Burnout from sustained overwork" {
		t.Errorf("Generate = %q", got)
	}

	if req.Model != "test-model" {
		t.Errorf("request model = %q, want test-model", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("request carried %d messages, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || !strings.Contains(req.Messages[0].Content, "root causes") {
		t.Errorf("first message should be the system frame, got %+v", req.Messages[0])
	}
	if req.Messages[1].Role != "user" || req.Messages[1].Content != "narrative goes here" {
		t.Errorf("second message should be the prompt, got %+v", req.Messages[1])
	}
}

func TestGenerate_ForwardsSamplingParams(t *testing.T) {
	var req chatRequest
	server := newMockCompletionServer(t, "ok", &req)
	defer server.Close()

	temp := float32(0.2)
	topP := float32(0.9)
	maxTok := 256
	c := newTestClient(t, server.URL)

	if _, err := c.Generate(context.Background(), "p", GenerationParams{
		Temperature: &temp,
		TopP:        &topP,
		MaxTokens:   &maxTok,
		Stop:        []string{"\n\n"},
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if req.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", req.Temperature)
	}
	if req.TopP != 0.9 {
		t.Errorf("top_p = %v, want 0.9", req.TopP)
	}
	if req.MaxCompletionTokens != 256 {
		t.Errorf("max_completion_tokens = %d, want 256", req.MaxCompletionTokens)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "\n\n" {
		t.Errorf("stop = %v", req.Stop)
	}
}

func TestGenerate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.Generate(context.Background(), "p", GenerationParams{}); err == nil {
		t.Fatal("expected an error from a 500 response")
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-test","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.Generate(context.Background(), "p", GenerationParams{}); err == nil {
		t.Fatal("expected an error when the response has no choices")
	}
}

func TestGenerate_RateLimiterHonorsContext(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	c, err := NewOpenAIClient(OpenAIConfig{
		APIKey:            "test-key",
		Model:             "test-model",
		BaseURL:           server.URL,
		RequestsPerMinute: 1,
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}

	// First call consumes the single burst token.
	if _, err := c.Generate(context.Background(), "p", GenerationParams{}); err != nil {
		t.Fatalf("first Generate: %v", err)
	}

	// Second call would wait a minute for the next token; an expiring
	// context must abort the wait without touching the API.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, "p", GenerationParams{}); err == nil {
		t.Fatal("expected a context error while queued on the limiter")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 (second call must not reach the API)", got)
	}
}
