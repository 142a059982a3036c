// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fathomworks/fathom/lib/secret"
)

func TestOpenAIQuery(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(writer http.ResponseWriter, request *http.Request) {
		if got := request.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}

		var wireRequest struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(request.Body).Decode(&wireRequest); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		if wireRequest.Model != "test-model" {
			t.Errorf("model = %q, want test-model", wireRequest.Model)
		}
		if length := len(wireRequest.Messages); length != 1 {
			t.Errorf("messages length = %d, want 1", length)
		} else {
			if wireRequest.Messages[0].Role != "user" {
				t.Errorf("messages[0].role = %q, want user", wireRequest.Messages[0].Role)
			}
			if wireRequest.Messages[0].Content != "what is in section 2" {
				t.Errorf("messages[0].content = %q", wireRequest.Messages[0].Content)
			}
		}

		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "section 2 lists the cargo"},
				"finish_reason": "stop",
			}},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	key, err := secret.NewFromBytes([]byte("test-key"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { key.Close() })

	querier := NewOpenAI(server.Client(), server.URL+"/v1/", "test-model", key)
	text, err := querier.Query(context.Background(), "what is in section 2")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if text != "section 2 lists the cargo" {
		t.Errorf("got %q", text)
	}
}

func TestOpenAIQueryNoKey(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(writer http.ResponseWriter, request *http.Request) {
		if got := request.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want unset", got)
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "ok"},
			}},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	querier := NewOpenAI(server.Client(), server.URL, "local", nil)
	if _, err := querier.Query(context.Background(), "ping"); err != nil {
		t.Fatalf("Query: %v", err)
	}
}

func TestOpenAIProviderError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(writer).Encode(map[string]any{
			"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "slow down",
			},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	querier := NewOpenAI(server.Client(), server.URL, "test-model", nil)
	_, err := querier.Query(context.Background(), "ping")

	var providerError *ProviderError
	if !errors.As(err, &providerError) {
		t.Fatalf("got %v, want *ProviderError", err)
	}
	if providerError.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", providerError.StatusCode)
	}
	if providerError.Type != "rate_limit_error" {
		t.Errorf("Type = %q, want rate_limit_error", providerError.Type)
	}
	if providerError.Message != "slow down" {
		t.Errorf("Message = %q, want slow down", providerError.Message)
	}
	if !providerError.IsRateLimited() {
		t.Error("IsRateLimited() = false, want true")
	}
}

func TestOpenAIProviderErrorPlainBody(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte("upstream exploded"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	querier := NewOpenAI(server.Client(), server.URL, "test-model", nil)
	_, err := querier.Query(context.Background(), "ping")

	var providerError *ProviderError
	if !errors.As(err, &providerError) {
		t.Fatalf("got %v, want *ProviderError", err)
	}
	if providerError.Type != "" {
		t.Errorf("Type = %q, want empty", providerError.Type)
	}
	if !strings.Contains(providerError.Message, "upstream exploded") {
		t.Errorf("Message = %q does not carry the body", providerError.Message)
	}
}

func TestOpenAINoChoices(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(writer http.ResponseWriter, request *http.Request) {
		json.NewEncoder(writer).Encode(map[string]any{"choices": []any{}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	querier := NewOpenAI(server.Client(), server.URL, "test-model", nil)
	_, err := querier.Query(context.Background(), "ping")
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("got %v, want no-choices error", err)
	}
}
