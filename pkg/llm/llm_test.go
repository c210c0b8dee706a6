// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Quorum Labs
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/config"
	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/httpclient"
	"github.com/quorumhq/quorum/pkg/model"
)

func newNoRetryClient() *httpclient.Client {
	return httpclient.New(httpclient.WithMaxRetries(0))
}

func testModel(provider, name string) model.Descriptor {
	return model.Descriptor{
		ID:              provider + "/" + name,
		Provider:        provider,
		Name:            name,
		Capabilities:    []model.Capability{model.CapTextGeneration},
		ContextWindow:   128000,
		InputPricePerM:  1.0,
		OutputPricePerM: 2.0,
		MeanLatencyMS:   500,
		Quality:         0.8,
	}
}

func TestOpenAICompatGenerate(t *testing.T) {
	var gotAuth string
	var gotBody openAIRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{
				Message:      openAIMessage{Role: "assistant", Content: "hello back"},
				FinishReason: "stop",
			}},
			Usage: &openAIUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	m := testModel("openai", "gpt-4o")
	p, err := NewOpenAICompat("openai", "sk-test", []model.Descriptor{m})
	require.NoError(t, err)
	p.baseURL = srv.URL

	resp, err := p.Generate(context.Background(), &Request{
		Model:       &m,
		System:      "be brief",
		Messages:    []Message{{Role: "user", Content: "hello"}},
		MaxTokens:   64,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "be brief", gotBody.Messages[0].Content)

	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, "openai/gpt-4o", resp.ModelID)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.InDelta(t, (12*1.0+3*2.0)/1e6, resp.CostUSD, 1e-12)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAICompatAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Error: &openAIError{Message: "Incorrect API key provided"},
		})
	}))
	defer srv.Close()

	m := testModel("openai", "gpt-4o")
	p, err := NewOpenAICompat("openai", "sk-bad", []model.Descriptor{m})
	require.NoError(t, err)
	p.baseURL = srv.URL

	_, err = p.Generate(context.Background(), &Request{
		Model:    &m,
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindAuth, f.Kind)
	assert.False(t, f.Retriable)
}

func TestOpenAICompatRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Error: &openAIError{Message: "Rate limit reached"},
		})
	}))
	defer srv.Close()

	m := testModel("groq", "llama-3.3-70b")
	p, err := NewOpenAICompat("groq", "gsk-test", []model.Descriptor{m})
	require.NoError(t, err)
	p.baseURL = srv.URL
	p.httpClient = newNoRetryClient()

	_, err = p.Generate(context.Background(), &Request{
		Model:    &m,
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindProvider, f.Kind)
	assert.Equal(t, "rate_limited", f.Code)
	assert.True(t, f.Retriable)
}

func TestOpenAICompatRejectsForeignModel(t *testing.T) {
	_, err := NewOpenAICompat("openai", "sk-test", []model.Descriptor{
		testModel("anthropic", "claude-sonnet-4"),
	})
	require.Error(t, err)
}

func TestOpenAICompatUnknownVendor(t *testing.T) {
	_, err := NewOpenAICompat("cohere", "key", nil)
	require.Error(t, err)
}

func TestAnthropicGenerate(t *testing.T) {
	var gotBody anthropicRequest
	var gotVersion, gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content:    []anthropicContent{{Type: "text", Text: "certainly"}},
			StopReason: "end_turn",
			Usage:      &anthropicUsage{InputTokens: 20, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	m := testModel("anthropic", "claude-sonnet-4")
	p, err := NewAnthropic("sk-ant", []model.Descriptor{m})
	require.NoError(t, err)
	p.baseURL = srv.URL

	resp, err := p.Generate(context.Background(), &Request{
		Model:    &m,
		System:   "you are terse",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, anthropicAPIVersion, gotVersion)
	assert.Equal(t, "sk-ant", gotKey)
	// System prompt travels out of band, not as a message.
	assert.Equal(t, "you are terse", gotBody.System)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	// Default when the caller did not cap output.
	assert.Equal(t, 1024, gotBody.MaxTokens)

	assert.Equal(t, "certainly", resp.Content)
	assert.Equal(t, 20, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestAnthropicCoercesRoles(t *testing.T) {
	var gotBody anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "ok"}},
		})
	}))
	defer srv.Close()

	m := testModel("anthropic", "claude-3-5-haiku")
	p, err := NewAnthropic("sk-ant", []model.Descriptor{m})
	require.NoError(t, err)
	p.baseURL = srv.URL

	_, err = p.Generate(context.Background(), &Request{
		Model: &m,
		Messages: []Message{
			{Role: "system", Content: "a"},
			{Role: "assistant", Content: "b"},
			{Role: "tool", Content: "c"},
		},
	})
	require.NoError(t, err)

	require.Len(t, gotBody.Messages, 3)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "assistant", gotBody.Messages[1].Role)
	assert.Equal(t, "user", gotBody.Messages[2].Role)
}

func TestGeminiGenerate(t *testing.T) {
	var gotBody geminiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "result"}}},
				FinishReason: "STOP",
			}},
			Usage: &geminiUsage{PromptTokenCount: 7, CandidatesTokenCount: 2},
		})
	}))
	defer srv.Close()

	m := testModel("google", "gemini-2.0-flash")
	p, err := NewGemini("g-key", []model.Descriptor{m})
	require.NoError(t, err)
	p.baseURL = srv.URL

	resp, err := p.Generate(context.Background(), &Request{
		Model:  &m,
		System: "short answers",
		Messages: []Message{
			{Role: "user", Content: "q"},
			{Role: "assistant", Content: "a"},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, gotBody.SystemInstruction)
	require.Len(t, gotBody.Contents, 2)
	assert.Equal(t, "user", gotBody.Contents[0].Role)
	assert.Equal(t, "model", gotBody.Contents[1].Role)

	assert.Equal(t, "result", resp.Content)
	assert.Equal(t, 7, resp.InputTokens)
	assert.Equal(t, 2, resp.OutputTokens)
}

func TestFakeDeterminism(t *testing.T) {
	m := testModel("openai", "gpt-4o")
	p := NewFake("openai", []model.Descriptor{m})

	req := &Request{Model: &m, Messages: []Message{{Role: "user", Content: "same input"}}}

	r1, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	r2, err := p.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, r1.Content, r2.Content)
	assert.Contains(t, r1.Content, "fake(gpt-4o)")
	assert.Equal(t, int64(2), p.Calls())
	assert.Len(t, p.Requests(), 2)
}

func TestFakeRespondOverrideAndDelay(t *testing.T) {
	m := testModel("openai", "gpt-4o")
	p := NewFake("openai", []model.Descriptor{m})
	p.Respond = func(req *Request) (string, error) { return "scripted", nil }

	resp, err := p.Generate(context.Background(), &Request{
		Model:    &m,
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "scripted", resp.Content)

	p.Delay = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, &Request{Model: &m, Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindTimeout, f.Kind)
}

func TestBuildProvidersFallsBackToFake(t *testing.T) {
	reg, err := model.NewRegistry("test", []model.Descriptor{
		testModel("openai", "gpt-4o"),
		testModel("anthropic", "claude-sonnet-4"),
	}, map[string]string{})
	require.NoError(t, err)

	providers, err := BuildProviders(&config.ProvidersConfig{}, reg)
	require.NoError(t, err)

	assert.Equal(t, 2, providers.Count())
	p, ok := providers.Get("openai")
	require.True(t, ok)
	_, isFake := p.(*FakeProvider)
	assert.True(t, isFake)
}

func TestBuildProvidersWithKeys(t *testing.T) {
	reg, err := model.NewRegistry("test", []model.Descriptor{
		testModel("openai", "gpt-4o"),
		testModel("anthropic", "claude-sonnet-4"),
		testModel("google", "gemini-2.0-flash"),
	}, map[string]string{})
	require.NoError(t, err)

	providers, err := BuildProviders(&config.ProvidersConfig{
		OpenAIAPIKey:    "sk-1",
		AnthropicAPIKey: "sk-2",
		GoogleAPIKey:    "sk-3",
		GroqAPIKey:      "sk-4", // no catalog models, skipped
	}, reg)
	require.NoError(t, err)

	assert.Equal(t, 3, providers.Count())
	p, err := providers.ForModel(&model.Descriptor{ID: "anthropic/claude-sonnet-4", Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = providers.ForModel(&model.Descriptor{ID: "groq/llama", Provider: "groq"})
	require.Error(t, err)
}

func TestClassifyHTTPTable(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  fault.Kind
		retriable bool
	}{
		{http.StatusUnauthorized, fault.KindAuth, false},
		{http.StatusForbidden, fault.KindAuth, false},
		{http.StatusNotFound, fault.KindNotFound, false},
		{http.StatusTooManyRequests, fault.KindProvider, true},
		{http.StatusBadRequest, fault.KindProvider, false},
		{http.StatusUnprocessableEntity, fault.KindProvider, false},
		{http.StatusInternalServerError, fault.KindProvider, true},
		{http.StatusServiceUnavailable, fault.KindProvider, true},
	}
	for _, tt := range tests {
		err := classifyHTTP("openai", tt.status, "vendor detail", nil)
		f, ok := fault.As(err)
		require.True(t, ok, "status %d", tt.status)
		assert.Equal(t, tt.wantKind, f.Kind, "status %d", tt.status)
		assert.Equal(t, tt.retriable, f.Retriable, "status %d", tt.status)
	}
}
