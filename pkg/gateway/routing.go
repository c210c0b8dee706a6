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

package gateway

import (
	"sync"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/model"
)

// Policy steers model selection. Weights are renormalized to sum to
// one; zero-valued policies fall back to DefaultPolicy.
type Policy struct {
	WCost    float64 `json:"w_cost"`
	WLatency float64 `json:"w_latency"`
	WQuality float64 `json:"w_quality"`

	MaxCostPerRequest float64 `json:"max_cost_per_request,omitempty"`
	MaxLatencyMS      float64 `json:"max_latency_ms,omitempty"`

	PreferProvider string   `json:"prefer_provider,omitempty"`
	FallbackModels []string `json:"fallback_models,omitempty"`
}

// DefaultPolicy balances the three axes evenly.
func DefaultPolicy() Policy {
	return Policy{WCost: 1.0 / 3, WLatency: 1.0 / 3, WQuality: 1.0 / 3}
}

func (p Policy) normalized() Policy {
	sum := p.WCost + p.WLatency + p.WQuality
	if sum <= 0 {
		d := DefaultPolicy()
		p.WCost, p.WLatency, p.WQuality = d.WCost, d.WLatency, d.WQuality
		return p
	}
	p.WCost /= sum
	p.WLatency /= sum
	p.WQuality /= sum
	return p
}

// Requirements describe what a request needs from a model.
type Requirements struct {
	Capabilities    []model.Capability
	PromptTokens    int
	MaxOutputTokens int
}

// preferBonus is large enough to break exact score ties toward the
// preferred provider, small enough never to override a real margin.
const preferBonus = 1e-9

// latencyTracker keeps an exponentially weighted mean latency per
// model, so routing reacts to what providers actually deliver rather
// than only the static descriptor figure.
type latencyTracker struct {
	mu   sync.Mutex
	mean map[string]float64
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{mean: make(map[string]float64)}
}

const latencyAlpha = 0.2

func (t *latencyTracker) observe(modelID string, latencyMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.mean[modelID]
	if !ok {
		t.mean[modelID] = latencyMS
		return
	}
	t.mean[modelID] = prev + latencyAlpha*(latencyMS-prev)
}

// latencyFor returns the observed mean when samples exist, falling
// back to the descriptor figure.
func (t *latencyTracker) latencyFor(d *model.Descriptor) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.mean[d.ID]; ok {
		return m
	}
	return float64(d.MeanLatencyMS)
}

type scoredCandidate struct {
	desc    *model.Descriptor
	cost    float64
	latency float64
	score   float64
}

// route selects the best model for the requirements under the policy.
func route(reg *model.Registry, perf *latencyTracker, reqs Requirements, policy Policy) (*model.Descriptor, error) {
	policy = policy.normalized()

	var candidates []scoredCandidate
	for _, d := range reg.All() {
		if !d.HasAll(reqs.Capabilities) {
			continue
		}
		if d.ContextWindow > 0 && reqs.PromptTokens+reqs.MaxOutputTokens > d.ContextWindow {
			continue
		}

		cost := d.Cost(reqs.PromptTokens, reqs.MaxOutputTokens)
		latency := perf.latencyFor(d)

		if policy.MaxCostPerRequest > 0 && cost > policy.MaxCostPerRequest {
			continue
		}
		if policy.MaxLatencyMS > 0 && latency > policy.MaxLatencyMS {
			continue
		}

		candidates = append(candidates, scoredCandidate{desc: d, cost: cost, latency: latency})
	}

	if len(candidates) == 0 {
		return nil, fault.Capacity("no_eligible_model",
			"no model satisfies the requested capabilities and caps")
	}

	minCost, maxCost := candidates[0].cost, candidates[0].cost
	minLat, maxLat := candidates[0].latency, candidates[0].latency
	for _, c := range candidates[1:] {
		minCost = min(minCost, c.cost)
		maxCost = max(maxCost, c.cost)
		minLat = min(minLat, c.latency)
		maxLat = max(maxLat, c.latency)
	}

	best := -1
	for i := range candidates {
		c := &candidates[i]
		c.score = policy.WQuality*c.desc.Quality -
			policy.WCost*minMaxNorm(c.cost, minCost, maxCost) -
			policy.WLatency*minMaxNorm(c.latency, minLat, maxLat)
		if policy.PreferProvider != "" && c.desc.Provider == policy.PreferProvider {
			c.score += preferBonus
		}
		if best < 0 || c.score > candidates[best].score {
			best = i
		}
	}

	return candidates[best].desc, nil
}

func minMaxNorm(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}
