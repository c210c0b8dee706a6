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

package prompt

import (
	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/registry"
)

// Store holds named templates. Lookup of an unknown name is a
// VALIDATION fault per the renderer contract.
type Store struct {
	reg *registry.BaseRegistry[*Template]
}

// NewStore creates a store preloaded with the built-in role templates.
func NewStore() *Store {
	s := &Store{reg: registry.NewBaseRegistry[*Template]()}
	for _, t := range builtinTemplates() {
		_ = s.reg.Register(t.Name, t)
	}
	return s
}

// Add registers or replaces a template.
func (s *Store) Add(t *Template) error {
	if t == nil || t.Name == "" {
		return fault.Validation("template name is required")
	}
	_ = s.reg.Remove(t.Name)
	return s.reg.Register(t.Name, t)
}

// Get returns the template or a VALIDATION fault.
func (s *Store) Get(name string) (*Template, error) {
	t, ok := s.reg.Get(name)
	if !ok {
		return nil, fault.Validation("unknown template %q", name).
			WithDetail("template", name)
	}
	return t, nil
}

// Names lists registered template names, sorted.
func (s *Store) Names() []string { return s.reg.Names() }

// builtinTemplates covers the default agent roles.
func builtinTemplates() []*Template {
	return []*Template{
		{
			Name:        "researcher",
			Role:        "You are a research specialist who gathers accurate, current information.",
			Task:        "Research the following topic thoroughly: {topic}",
			Format:      "Bullet points with a short source note per finding.",
			Constraints: []string{"Distinguish established facts from speculation."},
		},
		{
			Name:   "analyst",
			Role:   "You are an analyst who breaks problems into parts and weighs evidence.",
			Task:   "Analyze the following input and surface the key factors: {input}",
			Format: "Numbered findings, most significant first.",
		},
		{
			Name:        "synthesizer",
			Role:        "You combine multiple analyses into one coherent answer.",
			Task:        "Synthesize the perspectives below into a single response to: {query}",
			Context:     "{perspectives}",
			Constraints: []string{"Resolve contradictions explicitly; do not drop dissenting findings."},
		},
		{
			Name:   "planner",
			Role:   "You are a planning specialist who decomposes goals into concrete tasks.",
			Task:   "Produce a step-by-step plan for: {goal}",
			Format: "One task per line, each with the role best suited to execute it.",
		},
		{
			Name:        "executor",
			Role:        "You carry out a single well-defined task.",
			Task:        "{task}",
			Constraints: []string{"Stay within the task as written; flag anything out of scope."},
		},
		{
			Name:   "reviewer",
			Role:   "You review completed work for correctness and completeness.",
			Task:   "Review the following output against its goal: {output}",
			Format: "Verdict first, then specific issues if any.",
		},
		{
			Name:   "decomposer",
			Role:   "You split one question into distinct analytical perspectives.",
			Task:   "Produce {count} distinct sub-questions that together cover: {query}",
			Format: "One sub-question per line, no numbering.",
		},
	}
}
