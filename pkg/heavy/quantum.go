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

package heavy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/llm"
	"github.com/quorumhq/quorum/pkg/model"
)

// VariationSpec configures one thread of a quantum task: which role
// runs it, on which provider/model, with what prompt framing and
// sampling parameters.
type VariationSpec struct {
	ID           string  `json:"id" yaml:"id"`
	Role         string  `json:"role,omitempty" yaml:"role,omitempty"`
	Provider     string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	ModelID      string  `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	PromptPrefix string  `json:"prompt_prefix,omitempty" yaml:"prompt_prefix,omitempty"`
	PromptSuffix string  `json:"prompt_suffix,omitempty" yaml:"prompt_suffix,omitempty"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Weight       float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// QuantumTask runs one description through several variations in
// parallel and collapses the candidates into one answer.
type QuantumTask struct {
	Description string             `json:"description" yaml:"description"`
	Strategy    CollapseStrategy   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Variations  []VariationSpec    `json:"variations" yaml:"variations"`

	// MaxParallel bounds concurrent variations; zero runs them all at
	// once. Timeout bounds the whole run; zero uses the orchestrator's
	// total deadline.
	MaxParallel int           `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// QuantumResult pairs the collapsed answer with every thread's record.
type QuantumResult struct {
	Collapsed  Variation   `json:"collapsed"`
	Variations []Variation `json:"variations"`
}

// RunQuantum executes every variation through the gateway and collapses
// the survivors. It fails only when validation fails or no variation
// succeeds; individual thread failures are recorded and collapsed
// around.
func (o *Orchestrator) RunQuantum(ctx context.Context, qt *QuantumTask) (*QuantumResult, error) {
	if qt == nil || qt.Description == "" {
		return nil, fault.Validation("quantum task needs a description")
	}
	if len(qt.Variations) == 0 {
		return nil, fault.Validation("quantum task needs at least one variation")
	}

	timeout := qt.Timeout
	if timeout <= 0 {
		timeout = o.totalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]Variation, len(qt.Variations))

	g, gctx := errgroup.WithContext(ctx)
	if qt.MaxParallel > 0 {
		g.SetLimit(qt.MaxParallel)
	}
	for i := range qt.Variations {
		i := i
		o.report(i, StateQueued, "variation "+qt.Variations[i].ID)
		g.Go(func() error {
			results[i] = o.runVariation(gctx, i, qt.Description, qt.Variations[i])
			return nil
		})
	}
	_ = g.Wait()

	collapsed, err := Collapse(qt.Strategy, results, qt.Weights)
	if err != nil {
		return nil, err
	}
	return &QuantumResult{Collapsed: *collapsed, Variations: results}, nil
}

func (o *Orchestrator) runVariation(ctx context.Context, index int, description string, spec VariationSpec) Variation {
	started := time.Now()
	v := Variation{ID: spec.ID, Weight: spec.Weight}
	if v.ID == "" {
		v.ID = fmt.Sprintf("variation-%d", index)
	}

	o.report(index, StateProcessing, "calling model")

	var parts []string
	if spec.PromptPrefix != "" {
		parts = append(parts, spec.PromptPrefix)
	}
	parts = append(parts, description)
	if spec.PromptSuffix != "" {
		parts = append(parts, spec.PromptSuffix)
	}

	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	taskType := spec.Role
	if taskType == "" {
		taskType = "quantum"
	}
	policy := gateway.DefaultPolicy()
	policy.PreferProvider = spec.Provider

	resp, err := o.gw.Generate(ctx, &gateway.Request{
		ModelID:      spec.ModelID,
		Capabilities: []model.Capability{model.CapTextGeneration},
		Messages:     []llm.Message{{Role: "user", Content: strings.Join(parts, "\n")}},
		MaxTokens:    maxTokens,
		Temperature:  spec.Temperature,
		TaskType:     taskType,
		Policy:       &policy,
	})
	v.ExecutionTime = time.Since(started).Seconds()
	if err != nil {
		v.Err = err
		if ctx.Err() != nil {
			v.Status = StateCancelled
			o.report(index, StateCancelled, "")
		} else {
			v.Status = StateFailed
			o.report(index, StateFailed, "")
		}
		return v
	}

	v.Status = StateCompleted
	v.Content = resp.Content
	v.Provider = resp.Provider
	v.ModelID = resp.ModelID
	v.InputTokens = resp.InputTokens
	v.OutputTokens = resp.OutputTokens
	v.CostUSD = resp.CostUSD
	v.Metrics = map[string]float64{
		"latency_ms": float64(resp.Latency) / float64(time.Millisecond),
		"cost_usd":   resp.CostUSD,
		"tokens":     float64(resp.InputTokens + resp.OutputTokens),
		"length":     float64(len(resp.Content)),
	}
	o.report(index, StateCompleted, "")
	return v
}

// DefaultVariations derives n variations from the canonical
// perspectives, spreading temperature across the set so the threads
// actually diverge.
func DefaultVariations(n int) []VariationSpec {
	if n < 1 {
		n = 1
	}
	out := make([]VariationSpec, 0, n)
	for i := 0; i < n; i++ {
		tmpl := perspectiveTemplates[i%len(perspectiveTemplates)]
		temp := 0.2
		if n > 1 {
			temp += 0.6 * float64(i) / float64(n-1)
		}
		out = append(out, VariationSpec{
			ID:           fmt.Sprintf("variation-%d", i),
			Role:         "researcher",
			PromptPrefix: strings.TrimSuffix(tmpl, ": %s") + ":",
			Temperature:  temp,
			Weight:       1,
		})
	}
	return out
}
