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

// openAICompatBases maps vendor names to their OpenAI-compatible chat
// completion endpoints.
var openAICompatBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"xai":        "https://api.x.ai/v1",
	"moonshot":   "https://api.moonshot.ai/v1",
	"qwen":       "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"perplexity": "https://api.perplexity.ai",
}

// OpenAICompatProvider serves every vendor exposing the OpenAI chat
// completion wire format.
type OpenAICompatProvider struct {
	vendor     string
	baseURL    string
	apiKey     string
	models     []model.Descriptor
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAICompat creates an adapter for one OpenAI-compatible vendor.
// models must all belong to that vendor.
func NewOpenAICompat(vendor, apiKey string, models []model.Descriptor) (*OpenAICompatProvider, error) {
	baseURL, ok := openAICompatBases[vendor]
	if !ok {
		return nil, fmt.Errorf("unknown openai-compatible vendor: %s", vendor)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", vendor)
	}
	for _, m := range models {
		if m.Provider != vendor {
			return nil, fmt.Errorf("model %s does not belong to provider %s", m.ID, vendor)
		}
	}

	return &OpenAICompatProvider{
		vendor:  vendor,
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

// Name returns the vendor tag.
func (p *OpenAICompatProvider) Name() string { return p.vendor }

// Models returns the descriptors this adapter serves.
func (p *OpenAICompatProvider) Models() []model.Descriptor {
	out := make([]model.Descriptor, len(p.models))
	copy(out, p.models)
	return out
}

// CostOf computes the USD cost at m's pricing.
func (p *OpenAICompatProvider) CostOf(inputTokens, outputTokens int, m *model.Descriptor) float64 {
	return m.Cost(inputTokens, outputTokens)
}

// Generate performs one chat completion call.
func (p *OpenAICompatProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	tracer := observability.Tracer("quorum.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, req.Model.ID),
			attribute.String(observability.AttrProvider, p.vendor),
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
		err := classifyHTTP(p.vendor, http.StatusBadRequest, parsed.Error.Message, nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, parsed.Error.Message)
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		err := fault.Provider("empty_response", true, "%s returned no choices", p.vendor)
		span.RecordError(err)
		return nil, err
	}

	choice := parsed.Choices[0]
	inTok, outTok := p.usageOrEstimate(parsed.Usage, req, choice.Message.Content)

	resp := &Response{
		Content:      choice.Message.Content,
		ModelID:      req.Model.ID,
		Provider:     p.vendor,
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      p.CostOf(inTok, outTok, req.Model),
		Latency:      time.Since(start),
		FinishReason: choice.FinishReason,
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, inTok),
		attribute.Int(observability.AttrTokensOutput, outTok),
	)
	return resp, nil
}

func (p *OpenAICompatProvider) buildRequest(req *Request) *openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	out := &openAIRequest{
		Model:       req.Model.ModelName(),
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (p *OpenAICompatProvider) post(ctx context.Context, body *openAIRequest) (*openAIResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fault.Internal("failed to marshal %s request", p.vendor).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Internal("failed to build %s request", p.vendor).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if httpResp != nil {
			_ = httpResp.Body.Close()
		}
		return nil, classifyTransport(p.vendor, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransport(p.vendor, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var parsed openAIResponse
		vendorMsg := ""
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			vendorMsg = parsed.Error.Message
		}
		return nil, classifyHTTP(p.vendor, httpResp.StatusCode, vendorMsg, nil)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fault.Provider("malformed_response", true, "%s returned unparseable JSON", p.vendor).WithCause(err)
	}
	return &parsed, nil
}

// usageOrEstimate prefers vendor-reported usage, falling back to the
// byte heuristic when it is absent.
func (p *OpenAICompatProvider) usageOrEstimate(usage *openAIUsage, req *Request, content string) (int, int) {
	if usage != nil && usage.TotalTokens > 0 {
		return usage.PromptTokens, usage.CompletionTokens
	}
	return tokens.Estimate(req.PromptText()), tokens.Estimate(content)
}
