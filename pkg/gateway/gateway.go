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

// Package gateway is the sole path from agent code to an LLM vendor.
// It selects a model, consults the response cache, runs rate and spend
// admission, dispatches to the provider adapter, and records usage.
package gateway

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/llm"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/observability"
	"github.com/quorumhq/quorum/pkg/tokens"
)

// Request is a gateway generation request. Leave ModelID empty to let
// the routing policy choose.
type Request struct {
	ModelID      string
	Capabilities []model.Capability

	System      string
	Messages    []llm.Message
	MaxTokens   int
	Temperature float64
	Tools       []llm.ToolDefinition

	// TaskType and UserID tag the usage record.
	TaskType string
	UserID   string

	Policy    *Policy
	SkipCache bool
}

// Response is a completed generation with cache provenance.
type Response struct {
	llm.Response
	WasCached bool
}

// Gateway composes the registry, provider adapters, cache, admission
// controller, and usage sink. Construct once at startup and share.
type Gateway struct {
	models    *model.Registry
	providers *llm.Registry
	cache     *ResponseCache
	admission *Admission
	usage     UsageSink
	perf      *latencyTracker

	defaultPolicy Policy

	flight   singleflight.Group
	flightID atomic.Uint64
}

// Options configure optional gateway collaborators.
type Option func(*Gateway)

// WithCacheTTL overrides the response cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gateway) { g.cache = NewResponseCache(ttl) }
}

// WithAdmission replaces the admission controller.
func WithAdmission(a *Admission) Option {
	return func(g *Gateway) { g.admission = a }
}

// WithUsageSink replaces the usage sink.
func WithUsageSink(s UsageSink) Option {
	return func(g *Gateway) { g.usage = s }
}

// WithDefaultPolicy replaces the routing policy used when requests
// carry none.
func WithDefaultPolicy(p Policy) Option {
	return func(g *Gateway) { g.defaultPolicy = p }
}

// New creates a gateway over the given registry and providers.
func New(models *model.Registry, providers *llm.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		models:        models,
		providers:     providers,
		cache:         NewResponseCache(time.Hour),
		admission:     NewAdmission(AdmissionConfig{RequestsPerMinute: 60, SpendWindow: time.Hour}),
		usage:         NewMemorySink(),
		perf:          newLatencyTracker(),
		defaultPolicy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Close flushes the usage sink.
func (g *Gateway) Close() { g.usage.Close() }

// flightResult distinguishes the caller that actually ran the provider
// call from the callers that joined its flight.
type flightResult struct {
	resp  *llm.Response
	owner uint64
}

// Generate runs the full pipeline for one request. On a retriable
// provider failure it walks the policy's fallback chain, re-admitting
// at each hop.
func (g *Gateway) Generate(ctx context.Context, req *Request) (*Response, error) {
	policy := g.defaultPolicy
	if req.Policy != nil {
		policy = *req.Policy
	}

	desc, err := g.resolveModel(req, policy)
	if err != nil {
		g.recordFailure(req, "", "", 0, err)
		return nil, err
	}

	chain := append([]string{desc.ID}, policy.FallbackModels...)
	var lastErr error
	for hop, id := range chain {
		d, ok := g.models.Lookup(id)
		if !ok {
			lastErr = fault.NotFound("fallback model %s is not in the registry", id)
			continue
		}
		resp, err := g.generateOnce(ctx, req, d)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !fault.IsRetriable(err) {
			return nil, err
		}
		if hop < len(chain)-1 {
			slog.Warn("model call failed, trying fallback",
				"model", id, "next", chain[hop+1], "error", err)
		}
	}
	return nil, lastErr
}

func (g *Gateway) resolveModel(req *Request, policy Policy) (*model.Descriptor, error) {
	if req.ModelID != "" {
		d, ok := g.models.Lookup(req.ModelID)
		if !ok {
			return nil, fault.NotFound("model %s is not in the registry", req.ModelID)
		}
		return d, nil
	}
	return route(g.models, g.perf, g.requirements(req), policy)
}

func (g *Gateway) requirements(req *Request) Requirements {
	prompt := req.System
	for _, m := range req.Messages {
		prompt += m.Content
	}
	return Requirements{
		Capabilities:    req.Capabilities,
		PromptTokens:    tokens.Estimate(prompt),
		MaxOutputTokens: req.MaxTokens,
	}
}

// generateOnce performs the cache/admission/dispatch sequence for one
// concrete model.
func (g *Gateway) generateOnce(ctx context.Context, req *Request, desc *model.Descriptor) (*Response, error) {
	start := time.Now()

	tracer := observability.Tracer("quorum.gateway")
	ctx, span := tracer.Start(ctx, observability.SpanGatewayGenerate,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, desc.ID),
			attribute.String(observability.AttrProvider, desc.Provider),
		),
	)
	defer span.End()

	llmReq := &llm.Request{
		Model:       desc,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       req.Tools,
	}
	key := Fingerprint(llmReq)

	if !req.SkipCache {
		if cached, ok := g.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool(observability.AttrCached, true))
			return g.cachedResponse(req, desc, cached, start), nil
		}
	}

	callerID := g.flightID.Add(1)
	v, err, _ := g.flight.Do(key, func() (any, error) {
		resp, err := g.dispatch(ctx, req, desc, llmReq)
		if err != nil {
			return nil, err
		}
		if !req.SkipCache {
			g.cache.Put(key, resp)
		}
		return &flightResult{resp: resp, owner: callerID}, nil
	})
	if err != nil {
		span.RecordError(err)
		g.recordFailure(req, desc.ID, desc.Provider, time.Since(start), err)
		return nil, err
	}

	fr := v.(*flightResult)
	if fr.owner != callerID {
		// Joined another caller's in-flight generation.
		span.SetAttributes(attribute.Bool(observability.AttrCached, true))
		return g.cachedResponse(req, desc, fr.resp, start), nil
	}

	out := &Response{Response: *fr.resp}
	g.usage.Record(g.usageFor(req, &out.Response, false, true, ""))
	return out, nil
}

// dispatch runs admission and the provider call. The reservation is
// committed with the actual cost on success, and on the partial-charge
// paths where the vendor may have billed a cancelled call.
func (g *Gateway) dispatch(ctx context.Context, req *Request, desc *model.Descriptor, llmReq *llm.Request) (*llm.Response, error) {
	provider, err := g.providers.ForModel(desc)
	if err != nil {
		return nil, fault.Capacity("no_provider", "%v", err).WithCause(err)
	}

	estCost := desc.Cost(tokens.Estimate(llmReq.PromptText()), llmReq.MaxTokens)
	reservation, err := g.admission.Admit(desc.Provider, desc.ID, estCost)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Generate(ctx, llmReq)
	if err != nil {
		reservation.Release()
		return nil, err
	}

	reservation.Commit(resp.CostUSD)
	g.perf.observe(desc.ID, float64(resp.Latency.Milliseconds()))
	observability.Recorder().RecordLLMCall(ctx, desc.ID, desc.Provider,
		resp.Latency, resp.InputTokens, resp.OutputTokens, resp.CostUSD, false, nil)
	return resp, nil
}

// cachedResponse projects a stored response for a cache or flight-join
// hit: zero cost, lookup-only latency.
func (g *Gateway) cachedResponse(req *Request, desc *model.Descriptor, src *llm.Response, start time.Time) *Response {
	out := &Response{Response: *src, WasCached: true}
	out.CostUSD = 0
	out.Latency = time.Since(start)
	g.usage.Record(g.usageFor(req, &out.Response, true, true, ""))
	return out
}

func (g *Gateway) usageFor(req *Request, resp *llm.Response, cached, success bool, errorKind string) UsageRecord {
	return UsageRecord{
		ID:           newUsageID(),
		Timestamp:    time.Now(),
		ModelID:      resp.ModelID,
		Provider:     resp.Provider,
		TaskType:     req.TaskType,
		UserID:       req.UserID,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.InputTokens + resp.OutputTokens,
		CostUSD:      resp.CostUSD,
		LatencyMS:    resp.Latency.Milliseconds(),
		WasCached:    cached,
		Success:      success,
		ErrorKind:    errorKind,
	}
}

func (g *Gateway) recordFailure(req *Request, modelID, provider string, latency time.Duration, err error) {
	g.usage.Record(UsageRecord{
		ID:        newUsageID(),
		Timestamp: time.Now(),
		ModelID:   modelID,
		Provider:  provider,
		TaskType:  req.TaskType,
		UserID:    req.UserID,
		LatencyMS: latency.Milliseconds(),
		Success:   false,
		ErrorKind: string(fault.KindOf(err)),
	})
}

// RecommendModel returns the model the routing policy would pick for
// the requirements, without dispatching anything.
func (g *Gateway) RecommendModel(reqs Requirements, policy Policy) (*model.Descriptor, error) {
	return route(g.models, g.perf, reqs, policy)
}

// ListModels returns the registry view filtered by capabilities.
func (g *Gateway) ListModels(caps ...model.Capability) []*model.Descriptor {
	if len(caps) == 0 {
		return g.models.All()
	}
	return g.models.Filter(caps...)
}

// Usage exposes the configured sink, for callers that report spend.
func (g *Gateway) Usage() UsageSink { return g.usage }

// CacheStats reports response cache hits and misses.
func (g *Gateway) CacheStats() (hits, misses int64) { return g.cache.Stats() }
