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

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/httpclient"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/tokens"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider serves the Google generative language API.
type GeminiProvider struct {
	baseURL    string
	apiKey     string
	models     []model.Descriptor
	httpClient *httpclient.Client
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig  `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Usage      *geminiUsage      `json:"usageMetadata"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NewGemini creates the Google adapter.
func NewGemini(apiKey string, models []model.Descriptor) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	for _, m := range models {
		if m.Provider != "google" {
			return nil, fmt.Errorf("model %s does not belong to provider google", m.ID)
		}
	}
	return &GeminiProvider{
		baseURL: geminiDefaultBaseURL,
		apiKey:  apiKey,
		models: models,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseGeminiHeaders),
		),
	}, nil
}

// Name returns "google".
func (p *GeminiProvider) Name() string { return "google" }

// Models returns the descriptors this adapter serves.
func (p *GeminiProvider) Models() []model.Descriptor {
	out := make([]model.Descriptor, len(p.models))
	copy(out, p.models)
	return out
}

// CostOf computes the USD cost at m's pricing.
func (p *GeminiProvider) CostOf(inputTokens, outputTokens int, m *model.Descriptor) float64 {
	return m.Cost(inputTokens, outputTokens)
}

// Generate performs one generateContent call.
func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	body := p.buildRequest(req)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fault.Internal("failed to marshal gemini request").WithCause(err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, req.Model.ModelName(), p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Internal("failed to build gemini request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if httpResp != nil {
			_ = httpResp.Body.Close()
		}
		return nil, classifyTransport("google", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransport("google", err)
	}

	var parsed geminiResponse
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		vendorMsg := ""
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			vendorMsg = parsed.Error.Message
		}
		return nil, classifyHTTP("google", httpResp.StatusCode, vendorMsg, nil)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fault.Provider("malformed_response", true, "google returned unparseable JSON").WithCause(err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fault.Provider("empty_response", true, "google returned no candidates")
	}

	candidate := parsed.Candidates[0]
	var content string
	for _, part := range candidate.Content.Parts {
		content += part.Text
	}

	inTok := tokens.Estimate(req.PromptText())
	outTok := tokens.Estimate(content)
	if parsed.Usage != nil && parsed.Usage.PromptTokenCount+parsed.Usage.CandidatesTokenCount > 0 {
		inTok = parsed.Usage.PromptTokenCount
		outTok = parsed.Usage.CandidatesTokenCount
	}

	return &Response{
		Content:      content,
		ModelID:      req.Model.ID,
		Provider:     "google",
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      p.CostOf(inTok, outTok, req.Model),
		Latency:      time.Since(start),
		FinishReason: candidate.FinishReason,
	}, nil
}

func (p *GeminiProvider) buildRequest(req *Request) *geminiRequest {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	out := &geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	return out
}
