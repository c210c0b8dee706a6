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

// Package heavy runs the deep-analysis ensemble: one query fans out to
// N parallel agent perspectives whose answers are synthesized into a
// single result.
package heavy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quorumhq/quorum/pkg/agent"
	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/observability"
	"github.com/quorumhq/quorum/pkg/prompt"
)

// Worker progress states.
type WorkerState string

const (
	StateQueued     WorkerState = "QUEUED"
	StateProcessing WorkerState = "PROCESSING"
	StateCompleted  WorkerState = "COMPLETED"
	StateFailed     WorkerState = "FAILED"
	StateCancelled  WorkerState = "CANCELLED"
)

// MinAgents and MaxAgents bound the ensemble size.
const (
	MinAgents = 2
	MaxAgents = 8

	MaxQueryLen = 2000
)

// Default deadlines.
const (
	DefaultTotalTimeout     = 300 * time.Second
	DefaultWorkerTimeout    = 60 * time.Second
	DefaultSynthesisTimeout = 120 * time.Second
)

// ProgressUpdate is one observed worker transition. Updates for a
// given worker arrive in occurrence order.
type ProgressUpdate struct {
	Worker int         `json:"worker"`
	State  WorkerState `json:"state"`
	Stage  string      `json:"stage,omitempty"`
	At     time.Time   `json:"at"`
}

// AgentResult is one worker's outcome.
type AgentResult struct {
	AgentID       string      `json:"agent_id"`
	Index         int         `json:"index"`
	Status        WorkerState `json:"status"`
	Response      string      `json:"response,omitempty"`
	Error         string      `json:"error,omitempty"`
	ExecutionTime float64     `json:"execution_time"`
}

// Request describes one analysis run.
type Request struct {
	Query     string `json:"query"`
	NumAgents int    `json:"num_agents"`
	Detailed  bool   `json:"detailed"`
}

// Result is the synthesized outcome.
type Result struct {
	TaskID        string        `json:"task_id"`
	Status        string        `json:"status"`
	Result        string        `json:"result"`
	ExecutionTime float64       `json:"execution_time"`
	NumAgents     int           `json:"num_agents"`
	AgentResults  []AgentResult `json:"agent_results,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Orchestrator owns the decompose/fan-out/synthesize pipeline.
type Orchestrator struct {
	gw        *gateway.Gateway
	templates *prompt.Store

	deterministic    bool
	totalTimeout     time.Duration
	workerTimeout    time.Duration
	synthesisTimeout time.Duration
	onProgress       func(ProgressUpdate)

	mu      sync.Mutex
	updates []ProgressUpdate
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithDeterministic forces the provider-free decompose and synthesis
// paths.
func WithDeterministic(on bool) Option {
	return func(o *Orchestrator) { o.deterministic = on }
}

// WithTimeouts overrides the total and per-worker deadlines.
func WithTimeouts(total, perWorker time.Duration) Option {
	return func(o *Orchestrator) {
		if total > 0 {
			o.totalTimeout = total
		}
		if perWorker > 0 {
			o.workerTimeout = perWorker
		}
	}
}

// WithProgress installs a progress observer.
func WithProgress(fn func(ProgressUpdate)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// New creates an orchestrator over the shared gateway and templates.
func New(gw *gateway.Gateway, templates *prompt.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gw:               gw,
		templates:        templates,
		totalTimeout:     DefaultTotalTimeout,
		workerTimeout:    DefaultWorkerTimeout,
		synthesisTimeout: DefaultSynthesisTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Updates returns every progress update observed so far, in order.
func (o *Orchestrator) Updates() []ProgressUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ProgressUpdate, len(o.updates))
	copy(out, o.updates)
	return out
}

func (o *Orchestrator) report(worker int, state WorkerState, stage string) {
	u := ProgressUpdate{Worker: worker, State: state, Stage: stage, At: time.Now()}
	o.mu.Lock()
	o.updates = append(o.updates, u)
	o.mu.Unlock()
	if o.onProgress != nil {
		o.onProgress(u)
	}
}

func validate(req *Request) error {
	if req.Query == "" || len(req.Query) > MaxQueryLen {
		return fault.Validation("query must be 1..%d characters", MaxQueryLen)
	}
	if req.NumAgents < MinAgents || req.NumAgents > MaxAgents {
		return fault.Validation("num_agents must be in [%d..%d], got %d",
			MinAgents, MaxAgents, req.NumAgents)
	}
	return nil
}

// Analyze runs the full pipeline. The returned result is `failed` only
// when every worker failed; a partial ensemble still synthesizes.
func (o *Orchestrator) Analyze(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}

	tracer := observability.Tracer("quorum.heavy")
	ctx, span := tracer.Start(ctx, observability.SpanHeavyAnalysis)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.totalTimeout)
	defer cancel()

	subQueries, err := o.decompose(ctx, req.Query, req.NumAgents)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	results := o.fanOut(ctx, subQueries)

	out := &Result{
		TaskID:    uuid.NewString(),
		NumAgents: req.NumAgents,
	}
	if req.Detailed {
		out.AgentResults = results
	}

	synthesized, ok := o.synthesize(ctx, req.Query, results)
	out.Result = synthesized
	if ok {
		out.Status = "completed"
	} else {
		out.Status = "failed"
		out.Error = "all agents failed"
	}
	out.ExecutionTime = time.Since(start).Seconds()
	return out, nil
}

// fanOut runs one worker per sub-query and returns their results in
// worker index order.
func (o *Orchestrator) fanOut(ctx context.Context, subQueries []string) []AgentResult {
	results := make([]AgentResult, len(subQueries))

	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subQueries {
		i, sub := i, sub
		o.report(i, StateQueued, "")
		g.Go(func() error {
			results[i] = o.runWorker(ctx, i, sub)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) runWorker(ctx context.Context, index int, subQuery string) AgentResult {
	started := time.Now()
	res := AgentResult{Index: index}

	o.report(index, StateProcessing, "calling model")

	worker, err := agent.New(agent.Config{
		Name: fmt.Sprintf("heavy-worker-%d", index),
		Role: "researcher",
	}, o.gw, o.templates)
	if err != nil {
		res.Status = StateFailed
		res.Error = err.Error()
		o.report(index, StateFailed, "setup")
		return res
	}
	res.AgentID = worker.ID

	wctx, cancel := context.WithTimeout(ctx, o.workerTimeout)
	defer cancel()

	answer, err := worker.Execute(wctx, subQuery, map[string]any{"topic": subQuery})
	res.ExecutionTime = time.Since(started).Seconds()
	if err != nil {
		switch {
		case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
			res.Status = StateCancelled
			res.Error = "cancelled"
			o.report(index, StateCancelled, "")
		case fault.KindOf(err) == fault.KindTimeout:
			res.Status = StateFailed
			res.Error = "timeout"
			o.report(index, StateFailed, "timeout")
		default:
			res.Status = StateFailed
			res.Error = err.Error()
			o.report(index, StateFailed, "")
		}
		return res
	}

	res.Status = StateCompleted
	res.Response = answer.Content
	o.report(index, StateCompleted, "")
	return res
}

// synthesize combines worker outputs. The boolean reports whether at
// least one worker succeeded.
func (o *Orchestrator) synthesize(ctx context.Context, query string, results []AgentResult) (string, bool) {
	var successes []AgentResult
	for _, r := range results {
		if r.Status == StateCompleted {
			successes = append(successes, r)
		}
	}

	switch len(successes) {
	case 0:
		return failureSummary(results), false
	case 1:
		return successes[0].Response, true
	}

	// Assemble synthesis input in worker index order; fanOut already
	// returns index order, so concatenation is deterministic.
	var parts []string
	for _, r := range successes {
		parts = append(parts, fmt.Sprintf("Perspective %d:\n%s", r.Index+1, r.Response))
	}
	combined := strings.Join(parts, "\n\n")

	if o.deterministic {
		return fmt.Sprintf("Synthesis of %d perspectives on %q:\n\n%s",
			len(successes), query, combined), true
	}

	tpl, err := o.templates.Get("synthesizer")
	if err != nil {
		return combined, true
	}
	rendered, err := prompt.Render(tpl,
		map[string]any{"query": query, "perspectives": combined}, nil, nil)
	if err != nil {
		return combined, true
	}

	sctx, cancel := context.WithTimeout(ctx, o.synthesisTimeout)
	defer cancel()

	resp, err := o.gw.Generate(sctx, &gateway.Request{
		Capabilities: []model.Capability{model.CapTextGeneration},
		System:       rendered.System,
		Messages:     rendered.Messages,
		MaxTokens:    2048,
		TaskType:     "synthesis",
	})
	if err != nil {
		return combined, true
	}
	return resp.Content, true
}

func failureSummary(results []AgentResult) string {
	var b strings.Builder
	b.WriteString("All agents failed.\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- worker %d: %s\n", r.Index, r.Error)
	}
	return b.String()
}
