// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fathomworks/fathom/lib/secret"
)

// OpenAI implements [Querier] against the OpenAI Chat Completions
// wire format. It is compatible with any server speaking that format
// (OpenAI, OpenRouter, vLLM, Ollama, llama.cpp, and so on). Each
// prompt becomes a single-turn conversation; the session namespace,
// not chat history, carries state between calls.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     *secret.Buffer
}

// NewOpenAI creates a chat-completions querier. baseURL is the API
// root (for example "https://api.openai.com/v1"); a trailing slash is
// tolerated. apiKey may be nil for endpoints that require no
// credential; when set, the buffer must stay open for the life of the
// querier.
func NewOpenAI(httpClient *http.Client, baseURL, model string, apiKey *secret.Buffer) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAI{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Query sends one prompt as a single user message and returns the
// first choice's text.
func (provider *OpenAI) Query(ctx context.Context, prompt string) (string, error) {
	wireRequest := chatRequest{
		Model:    provider.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return "", fmt.Errorf("llm/openai: marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost,
		provider.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm/openai: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if provider.apiKey != nil {
		httpRequest.Header.Set("Authorization", "Bearer "+provider.apiKey.String())
	}

	httpResponse, err := provider.httpClient.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("llm/openai: sending request: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return "", readProviderError(httpResponse)
	}

	var wireResponse chatResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wireResponse); err != nil {
		return "", fmt.Errorf("llm/openai: decoding response: %w", err)
	}
	if len(wireResponse.Choices) == 0 {
		return "", fmt.Errorf("llm/openai: response carries no choices")
	}
	return wireResponse.Choices[0].Message.Content, nil
}

// readProviderError parses an error response body in the common
// provider error format used by OpenAI and compatible APIs:
// {"error":{"type":"...","message":"..."}}. Extra fields in the error
// object are silently ignored.
func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}

	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    string(body),
	}
}
