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

package workflow

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quorumhq/quorum/pkg/fault"
)

// TemplateDef is a reusable workflow shape selected by goal keywords.
type TemplateDef struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Tasks    []Task   `yaml:"tasks" json:"tasks"`
}

// builtinWorkflowTemplates ship with the runtime; user-supplied YAML
// definitions take precedence by name.
func builtinWorkflowTemplates() []TemplateDef {
	return []TemplateDef{
		{
			Name:     "research_report",
			Keywords: []string{"research", "investigate", "study"},
			Tasks: []Task{
				{ID: "research", Name: "Gather material", Role: "researcher",
					Input: "${goal}", MaxAttempts: 2},
				{ID: "analyze", Name: "Analyze findings", Role: "analyst",
					Input: "${research}", DependsOn: []string{"research"}, MaxAttempts: 2},
				{ID: "review", Name: "Review report", Role: "reviewer",
					Input: "${analyze}", DependsOn: []string{"analyze"}},
			},
		},
		{
			Name:     "incident_review",
			Keywords: []string{"incident", "outage", "postmortem", "root cause"},
			Tasks: []Task{
				{ID: "collect", Name: "Collect incident facts", Role: "researcher",
					Input: "${goal}", MaxAttempts: 2},
				{ID: "diagnose", Name: "Diagnose root cause", Role: "analyst",
					Input: "${collect}", DependsOn: []string{"collect"}, MaxAttempts: 3},
				{ID: "remediate", Name: "Propose remediation", Role: "planner",
					Input: "${diagnose}", DependsOn: []string{"diagnose"}},
				{ID: "review", Name: "Review the writeup", Role: "reviewer",
					Input: "${remediate}", DependsOn: []string{"remediate"}},
			},
		},
	}
}

// Planner turns a goal into a workflow, from a matching template or
// the minimal plan/execute/review fallback.
type Planner struct {
	templates []TemplateDef
}

// NewPlanner creates a planner with the built-in templates.
func NewPlanner() *Planner {
	return &Planner{templates: builtinWorkflowTemplates()}
}

// LoadTemplates merges template definitions from a YAML file; entries
// with a known name replace the built-in one.
func (p *Planner) LoadTemplates(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fault.Validation("cannot read workflow templates: %v", err).WithCause(err)
	}
	var defs []TemplateDef
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return fault.Validation("malformed workflow templates: %v", err).WithCause(err)
	}
	for _, def := range defs {
		replaced := false
		for i := range p.templates {
			if p.templates[i].Name == def.Name {
				p.templates[i] = def
				replaced = true
				break
			}
		}
		if !replaced {
			p.templates = append(p.templates, def)
		}
	}
	return nil
}

// Match returns the first template whose keywords appear in the goal.
func (p *Planner) Match(goal string) (*TemplateDef, bool) {
	lower := strings.ToLower(goal)
	for i := range p.templates {
		for _, kw := range p.templates[i].Keywords {
			if strings.Contains(lower, kw) {
				return &p.templates[i], true
			}
		}
	}
	return nil, false
}

// Plan instantiates a workflow for the goal. ${goal} in template
// inputs is bound to the goal text before validation.
func (p *Planner) Plan(goal string, policy Policy) (*Workflow, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fault.Validation("goal cannot be empty")
	}

	var tasks []Task
	if def, ok := p.Match(goal); ok {
		tasks = make([]Task, len(def.Tasks))
		copy(tasks, def.Tasks)
	} else {
		tasks = []Task{
			{ID: "plan", Name: "Plan the work", Role: "planner", Input: "${goal}"},
			{ID: "execute", Name: "Execute the plan", Role: "executor",
				Input: "${plan}", DependsOn: []string{"plan"}, MaxAttempts: 2},
			{ID: "review", Name: "Review the outcome", Role: "reviewer",
				Input: "${execute}", DependsOn: []string{"execute"}},
		}
	}

	for i := range tasks {
		tasks[i].Input = strings.ReplaceAll(tasks[i].Input, "${goal}", goal)
	}

	return NewWorkflow(goal, tasks, policy)
}
