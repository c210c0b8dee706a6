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

// Package agent composes prompt rendering and the model gateway into a
// role-tagged worker. Agents own their contextual memory; everything
// else is injected.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/memory"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/observability"
	"github.com/quorumhq/quorum/pkg/prompt"
)

// Status is the agent lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// latencyAlpha is the EWMA smoothing factor for MeanLatencyMS.
const latencyAlpha = 0.2

// Counters accumulate across Execute calls. MeanLatencyMS is an
// exponentially weighted moving average over successful executions.
type Counters struct {
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	TotalTokens    int     `json:"total_tokens"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	MeanLatencyMS  float64 `json:"mean_latency_ms"`
}

// Config describes one agent.
type Config struct {
	Name        string
	Role        string
	Template    string // template name; defaults to the role
	ModelID     string // pin a model; empty lets routing choose
	Temperature float64
	MaxTokens   int
	Policy      *gateway.Policy
}

// Agent is one LLM-backed worker.
type Agent struct {
	ID   string
	Name string
	Role string

	cfg    Config
	gw     *gateway.Gateway
	store  *prompt.Store
	memory *memory.Contextual

	mu       sync.Mutex
	status   Status
	counters Counters
}

// Result is one completed execution.
type Result struct {
	Content      string        `json:"content"`
	ModelID      string        `json:"model_id"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Latency      time.Duration `json:"latency"`
	WasCached    bool          `json:"was_cached"`
}

// New creates an agent over the shared gateway and template store.
func New(cfg Config, gw *gateway.Gateway, store *prompt.Store) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fault.Validation("agent name is required")
	}
	if cfg.Role == "" {
		return nil, fault.Validation("agent role is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Template == "" {
		cfg.Template = cfg.Role
	}
	return &Agent{
		ID:     uuid.NewString(),
		Name:   cfg.Name,
		Role:   cfg.Role,
		cfg:    cfg,
		gw:     gw,
		store:  store,
		memory: memory.NewContextual(),
		status: StatusIdle,
	}, nil
}

// Memory exposes the agent's contextual memory.
func (a *Agent) Memory() *memory.Contextual { return a.memory }

// Status returns the current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Counters returns a copy of the accumulated counters.
func (a *Agent) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// Disable takes the agent out of rotation; subsequent Execute calls
// fail with CONFLICT.
func (a *Agent) Disable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusDisabled
}

// Execute renders the agent's template over vars and its memory, calls
// the gateway, and records the exchange.
func (a *Agent) Execute(ctx context.Context, input string, vars map[string]any) (*Result, error) {
	a.mu.Lock()
	if a.status == StatusDisabled {
		a.mu.Unlock()
		return nil, fault.Conflict("agent %s is disabled", a.Name)
	}
	a.status = StatusBusy
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.status == StatusBusy {
			a.status = StatusIdle
		}
		a.mu.Unlock()
	}()

	tracer := observability.Tracer("quorum.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentExecute,
		trace.WithAttributes(attribute.String(observability.AttrAgentRole, a.Role)),
	)
	defer span.End()

	resp, err := a.generate(ctx, input, vars)
	if err != nil {
		span.RecordError(err)
		a.mu.Lock()
		a.counters.TasksFailed++
		a.status = StatusError
		a.mu.Unlock()
		return nil, err
	}

	a.memory.Remember("input", input)
	a.memory.Remember("response", resp.Content)

	a.mu.Lock()
	a.counters.TasksCompleted++
	a.counters.TotalTokens += resp.InputTokens + resp.OutputTokens
	a.counters.TotalCostUSD += resp.CostUSD
	latMS := float64(resp.Latency) / float64(time.Millisecond)
	if a.counters.TasksCompleted == 1 {
		a.counters.MeanLatencyMS = latMS
	} else {
		a.counters.MeanLatencyMS += latencyAlpha * (latMS - a.counters.MeanLatencyMS)
	}
	a.mu.Unlock()

	return &Result{
		Content:      resp.Content,
		ModelID:      resp.ModelID,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      resp.CostUSD,
		Latency:      resp.Latency,
		WasCached:    resp.WasCached,
	}, nil
}

func (a *Agent) generate(ctx context.Context, input string, vars map[string]any) (*gateway.Response, error) {
	tpl, err := a.store.Get(a.cfg.Template)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		merged[k] = v
	}
	if _, ok := merged["input"]; !ok {
		merged["input"] = input
	}
	if _, ok := merged["task"]; !ok {
		merged["task"] = input
	}

	target := a.targetModel()
	rendered, err := prompt.Render(tpl, merged, a.memory, target)
	if err != nil {
		return nil, err
	}

	req := &gateway.Request{
		ModelID:      a.cfg.ModelID,
		Capabilities: []model.Capability{model.CapTextGeneration},
		System:       rendered.System,
		Messages:     rendered.Messages,
		MaxTokens:    a.cfg.MaxTokens,
		Temperature:  a.cfg.Temperature,
		TaskType:     a.Role,
		Policy:       a.cfg.Policy,
	}
	return a.gw.Generate(ctx, req)
}

// targetModel resolves the pinned model for prompt-format adaptation;
// nil means routing picks later and the chat format is used.
func (a *Agent) targetModel() *model.Descriptor {
	if a.cfg.ModelID == "" {
		return nil
	}
	for _, d := range a.gw.ListModels() {
		if d.ID == a.cfg.ModelID {
			return d
		}
	}
	return nil
}
