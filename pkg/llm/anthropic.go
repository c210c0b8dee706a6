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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/httpclient"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/observability"
	"github.com/quorumhq/quorum/pkg/tokens"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicProvider serves the Anthropic messages API.
type AnthropicProvider struct {
	baseURL    string
	apiKey     string
	models     []model.Descriptor
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *anthropicUsage    `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropic creates the Anthropic adapter.
func NewAnthropic(apiKey string, models []model.Descriptor) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	for _, m := range models {
		if m.Provider != "anthropic" {
			return nil, fmt.Errorf("model %s does not belong to provider anthropic", m.ID)
		}
	}
	return &AnthropicProvider{
		baseURL: anthropicDefaultBaseURL,
		apiKey:  apiKey,
		models: models,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models returns the descriptors this adapter serves.
func (p *AnthropicProvider) Models() []model.Descriptor {
	out := make([]model.Descriptor, len(p.models))
	copy(out, p.models)
	return out
}

// CostOf computes the USD cost at m's pricing.
func (p *AnthropicProvider) CostOf(inputTokens, outputTokens int, m *model.Descriptor) float64 {
	return m.Cost(inputTokens, outputTokens)
}

// Generate performs one messages API call.
func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	tracer := observability.Tracer("quorum.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, req.Model.ID),
			attribute.String(observability.AttrProvider, "anthropic"),
		),
	)
	defer span.End()

	body := p.buildRequest(req)

	parsed, err := p.post(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if parsed.Error != nil {
		err := classifyHTTP("anthropic", http.StatusBadRequest, parsed.Error.Message, nil)
		span.RecordError(err)
		return nil, err
	}

	var content string
	for _, c := range parsed.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	inTok, outTok := p.usageOrEstimate(parsed.Usage, req, content)

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, inTok),
		attribute.Int(observability.AttrTokensOutput, outTok),
	)

	return &Response{
		Content:      content,
		ModelID:      req.Model.ID,
		Provider:     "anthropic",
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      p.CostOf(inTok, outTok, req.Model),
		Latency:      time.Since(start),
		FinishReason: parsed.StopReason,
	}, nil
}

func (p *AnthropicProvider) buildRequest(req *Request) *anthropicRequest {
	// The messages API requires alternating user/assistant roles and
	// takes the system prompt out of band.
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, anthropicMessage{Role: role, Content: m.Content})
	}
	if len(messages) == 0 {
		messages = append(messages, anthropicMessage{Role: "user", Content: ""})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	out := &anthropicRequest{
		Model:       req.Model.ModelName(),
		Messages:    messages,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

func (p *AnthropicProvider) post(ctx context.Context, body *anthropicRequest) (*anthropicResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fault.Internal("failed to marshal anthropic request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Internal("failed to build anthropic request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if httpResp != nil {
			_ = httpResp.Body.Close()
		}
		return nil, classifyTransport("anthropic", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransport("anthropic", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var parsed anthropicResponse
		vendorMsg := ""
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			vendorMsg = parsed.Error.Message
		}
		return nil, classifyHTTP("anthropic", httpResp.StatusCode, vendorMsg, nil)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fault.Provider("malformed_response", true, "anthropic returned unparseable JSON").WithCause(err)
	}
	return &parsed, nil
}

func (p *AnthropicProvider) usageOrEstimate(usage *anthropicUsage, req *Request, content string) (int, int) {
	if usage != nil && usage.InputTokens+usage.OutputTokens > 0 {
		return usage.InputTokens, usage.OutputTokens
	}
	return tokens.Estimate(req.PromptText()), tokens.Estimate(content)
}
