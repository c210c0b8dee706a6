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

// Package model describes the models the gateway can route to.
//
// The registry is immutable after startup. Descriptors carry the
// capability set, context window, and pricing the router and cost
// accounting depend on.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// Capability tags what a model can do.
type Capability string

const (
	CapTextGeneration   Capability = "text-generation"
	CapReasoning        Capability = "reasoning"
	CapMultimodal       Capability = "multimodal"
	CapVision           Capability = "vision"
	CapFunctionCalling  Capability = "function-calling"
	CapStructuredOutput Capability = "structured-output"
	CapEmbedding        Capability = "embedding"
	CapSearch           Capability = "search"
	CapLongContext      Capability = "long-context"
)

// Descriptor describes one model. ID is "provider/model-id".
type Descriptor struct {
	ID            string       `json:"id" yaml:"id"`
	Provider      string       `json:"provider" yaml:"provider"`
	Name          string       `json:"name" yaml:"name"`
	Capabilities  []Capability `json:"capabilities" yaml:"capabilities"`
	ContextWindow int          `json:"context_window" yaml:"context_window"`

	// Prices are USD per million tokens.
	InputPricePerM  float64 `json:"input_price_per_m" yaml:"input_price_per_m"`
	OutputPricePerM float64 `json:"output_price_per_m" yaml:"output_price_per_m"`

	// MeanLatencyMS is the observed mean latency; zero means unknown.
	MeanLatencyMS float64 `json:"mean_latency_ms,omitempty" yaml:"mean_latency_ms,omitempty"`

	// Quality is a score in [0,1]; zero means unscored.
	Quality float64 `json:"quality,omitempty" yaml:"quality,omitempty"`

	IsReasoning  bool `json:"is_reasoning,omitempty" yaml:"is_reasoning,omitempty"`
	IsMultimodal bool `json:"is_multimodal,omitempty" yaml:"is_multimodal,omitempty"`
}

// HasCapability reports whether the descriptor declares cap.
func (d *Descriptor) HasCapability(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasAll reports whether the descriptor declares every capability in caps.
func (d *Descriptor) HasAll(caps []Capability) bool {
	for _, c := range caps {
		if !d.HasCapability(c) {
			return false
		}
	}
	return true
}

// Cost returns the USD cost of a call at this model's pricing.
func (d *Descriptor) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*d.InputPricePerM + float64(outputTokens)*d.OutputPricePerM) / 1e6
}

// ModelName returns the vendor-local model id (after the slash).
func (d *Descriptor) ModelName() string {
	if i := strings.IndexByte(d.ID, '/'); i >= 0 {
		return d.ID[i+1:]
	}
	return d.ID
}

// ClaudeFamily reports whether the model belongs to the Claude family,
// which prefers Human:/Assistant: turn markers.
func (d *Descriptor) ClaudeFamily() bool {
	return d.Provider == "anthropic" || strings.Contains(d.ModelName(), "claude")
}

// Registry is the immutable model catalog. Construct it once at startup
// and share it by reference.
type Registry struct {
	version string
	byID    map[string]*Descriptor
	ordered []*Descriptor

	// targets maps routing roles (default, fast, reasoning, ...) to ids.
	targets map[string]string
}

// NewRegistry builds a registry from descriptors and routing targets.
// It fails if a target names an unknown model, if any descriptor lacks
// a provider/id, or if two descriptors share an id.
func NewRegistry(version string, descriptors []Descriptor, targets map[string]string) (*Registry, error) {
	byID := make(map[string]*Descriptor, len(descriptors))
	ordered := make([]*Descriptor, 0, len(descriptors))

	for i := range descriptors {
		d := descriptors[i]
		if d.ID == "" || d.Provider == "" {
			return nil, fmt.Errorf("descriptor %d missing id or provider", i)
		}
		if !strings.HasPrefix(d.ID, d.Provider+"/") {
			return nil, fmt.Errorf("descriptor id %q does not match provider %q", d.ID, d.Provider)
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", d.ID)
		}
		byID[d.ID] = &d
		ordered = append(ordered, &d)
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for role, id := range targets {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("routing target %q names unknown model %q", role, id)
		}
	}

	return &Registry{
		version: version,
		byID:    byID,
		ordered: ordered,
		targets: targets,
	}, nil
}

// Version returns the registry version string carried in logs.
func (r *Registry) Version() string { return r.version }

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Target resolves a routing role (default, fast, reasoning, ...) to a
// descriptor.
func (r *Registry) Target(role string) (*Descriptor, bool) {
	id, ok := r.targets[role]
	if !ok {
		return nil, false
	}
	return r.Lookup(id)
}

// All returns every descriptor in id order.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Filter returns descriptors declaring every capability in caps, in id
// order.
func (r *Registry) Filter(caps ...Capability) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.ordered {
		if d.HasAll(caps) {
			out = append(out, d)
		}
	}
	return out
}

// ByProvider returns descriptors for one provider, in id order.
func (r *Registry) ByProvider(provider string) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.ordered {
		if d.Provider == provider {
			out = append(out, d)
		}
	}
	return out
}
