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

// Package llm defines the provider contract and the vendor adapters.
//
// Adapters translate a normalized request into one vendor call, parse
// the response back, and classify every failure into the fault
// taxonomy. Vendor error types never escape this package.
package llm

import (
	"context"
	"time"

	"github.com/quorumhq/quorum/pkg/model"
)

// Message is one normalized chat turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content"`
}

// ToolDefinition declares a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a normalized vendor-level request. The gateway resolves
// routing, caching, and admission before an adapter ever sees it.
type Request struct {
	Model       *model.Descriptor
	Messages    []Message
	System      string
	MaxTokens   int
	Temperature float64
	Tools       []ToolDefinition
}

// Response is the normalized vendor response.
type Response struct {
	Content      string
	ModelID      string
	Provider     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Latency      time.Duration
	FinishReason string
}

// Provider is the closed adapter contract. One implementation per
// vendor family.
type Provider interface {
	// Name returns the provider tag (openai, anthropic, groq, ...).
	Name() string

	// Models returns the descriptors this provider serves.
	Models() []model.Descriptor

	// Generate performs one non-streaming call.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// CostOf computes the USD cost for a token count at m's pricing.
	CostOf(inputTokens, outputTokens int, m *model.Descriptor) float64
}

// PromptText flattens the request messages for token estimation.
func (r *Request) PromptText() string {
	var size int
	for _, m := range r.Messages {
		size += len(m.Content) + 1
	}
	buf := make([]byte, 0, size+len(r.System)+1)
	if r.System != "" {
		buf = append(buf, r.System...)
		buf = append(buf, '\n')
	}
	for _, m := range r.Messages {
		buf = append(buf, m.Content...)
		buf = append(buf, '\n')
	}
	return string(buf)
}
