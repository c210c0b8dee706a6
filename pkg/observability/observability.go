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

// Package observability exposes otel tracers and meters for the runtime.
//
// Only the otel API is used here. Exporter wiring belongs to the
// deployment, not the runtime core; without a configured SDK the calls
// are no-ops.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the runtime.
const (
	SpanLLMRequest      = "quorum.llm_request"
	SpanGatewayGenerate = "quorum.gateway_generate"
	SpanAgentExecute    = "quorum.agent_execute"
	SpanHeavyAnalysis   = "quorum.heavy_analysis"
	SpanWorkflowRun     = "quorum.workflow_run"
	SpanGraphQuery      = "quorum.graph_query"
	SpanTaskExecution   = "quorum.task_execution"
	SpanCacheLookup     = "quorum.cache_lookup"
	SpanAdmissionCheck  = "quorum.admission_check"
)

// Common attribute keys.
const (
	AttrModel        = "llm.model"
	AttrProvider     = "llm.provider"
	AttrTokensInput  = "llm.tokens.input"
	AttrTokensOutput = "llm.tokens.output"
	AttrCached       = "llm.cached"
	AttrAgentRole    = "agent.role"
	AttrErrorKind    = "error.kind"
)

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// LLMRecorder records per-call LLM metrics.
type LLMRecorder struct {
	calls   metric.Int64Counter
	tokens  metric.Int64Counter
	latency metric.Float64Histogram
	cost    metric.Float64Counter
}

var (
	recorderOnce sync.Once
	recorder     *LLMRecorder
)

// Recorder returns the process-wide LLM metrics recorder.
func Recorder() *LLMRecorder {
	recorderOnce.Do(func() {
		meter := otel.Meter("github.com/quorumhq/quorum")
		calls, _ := meter.Int64Counter("quorum.llm.calls")
		tokens, _ := meter.Int64Counter("quorum.llm.tokens")
		latency, _ := meter.Float64Histogram("quorum.llm.latency_ms")
		cost, _ := meter.Float64Counter("quorum.llm.cost_usd")
		recorder = &LLMRecorder{calls: calls, tokens: tokens, latency: latency, cost: cost}
	})
	return recorder
}

// RecordLLMCall records one gateway call outcome.
func (r *LLMRecorder) RecordLLMCall(ctx context.Context, modelID, provider string, latency time.Duration, inputTokens, outputTokens int, costUSD float64, cached bool, err error) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrModel, modelID),
		attribute.String(AttrProvider, provider),
		attribute.Bool(AttrCached, cached),
		attribute.Bool("success", err == nil),
	)
	r.calls.Add(ctx, 1, attrs)
	r.tokens.Add(ctx, int64(inputTokens+outputTokens), attrs)
	r.latency.Record(ctx, float64(latency.Milliseconds()), attrs)
	r.cost.Add(ctx, costUSD, attrs)
}
