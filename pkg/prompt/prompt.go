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

// Package prompt renders the final prompt for an LLM call from a named
// template, a variables mapping, the agent's contextual memory, and
// the target model's preferred format.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/llm"
	"github.com/quorumhq/quorum/pkg/memory"
	"github.com/quorumhq/quorum/pkg/model"
)

// Template is a sectioned prompt with {name} placeholders. Sections
// render in the declared order; empty sections are omitted.
type Template struct {
	Name string `json:"name" yaml:"name"`

	Role    string `json:"role,omitempty" yaml:"role,omitempty"`
	Task    string `json:"task,omitempty" yaml:"task,omitempty"`
	Format  string `json:"format,omitempty" yaml:"format,omitempty"`
	Context string `json:"context,omitempty" yaml:"context,omitempty"`

	// Constraints and Examples render one item per line, in declared
	// order.
	Constraints []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// sectionOrder is fixed; renderers must not reorder it.
var sectionOrder = []struct {
	header string
	get    func(t *Template) string
}{
	{"Role", func(t *Template) string { return t.Role }},
	{"Task", func(t *Template) string { return t.Task }},
	{"Format", func(t *Template) string { return t.Format }},
	{"Context", func(t *Template) string { return t.Context }},
	{"Constraints", func(t *Template) string { return strings.Join(t.Constraints, "\n") }},
	{"Examples", func(t *Template) string { return strings.Join(t.Examples, "\n") }},
}

// Rendered is the model-ready form of a template.
type Rendered struct {
	// System carries the role section for chat-format targets.
	System string

	// Messages is the chat-format payload.
	Messages []llm.Message

	// Text is the single-string form; for Claude-family targets it
	// carries the Human:/Assistant: turn markers.
	Text string
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// substitute replaces every {name} placeholder from vars. An unbound
// placeholder is a VALIDATION fault naming the key.
func substitute(text string, vars map[string]any) (string, error) {
	var missing string
	var badValue error

	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := vars[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return match
		}
		s, err := stringify(v)
		if err != nil {
			if badValue == nil {
				badValue = fault.Validation("variable %q is not serializable", key).WithCause(err)
			}
			return match
		}
		return s
	})

	if missing != "" {
		return "", fault.Validation("unbound placeholder {%s}", missing).
			WithDetail("placeholder", missing)
	}
	if badValue != nil {
		return "", badValue
	}
	return out, nil
}

func stringify(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.Trim(string(raw), `"`), nil
}

// Render produces the model-ready prompt. Rendering is pure: the same
// template, variables, memory content, and target yield identical
// output.
func Render(t *Template, vars map[string]any, mem *memory.Contextual, target *model.Descriptor) (*Rendered, error) {
	if t == nil {
		return nil, fault.Validation("template is required")
	}

	working := *t
	if mem != nil {
		if ctx := mem.Context(); ctx != "" {
			if working.Context != "" {
				working.Context += "\n" + ctx
			} else {
				working.Context = ctx
			}
		}
	}

	var sections []string
	var system string
	for _, s := range sectionOrder {
		content := s.get(&working)
		if content == "" {
			continue
		}
		substituted, err := substitute(content, vars)
		if err != nil {
			return nil, err
		}
		if s.header == "Role" {
			system = substituted
		}
		sections = append(sections, s.header+":\n"+substituted)
	}

	body := strings.Join(sections, "\n\n")

	out := &Rendered{System: system}
	if target != nil && target.ClaudeFamily() {
		out.Text = "\n\nHuman: " + body + "\n\nAssistant:"
		out.Messages = []llm.Message{{Role: "user", Content: out.Text}}
		return out, nil
	}

	var user []string
	for _, section := range sections {
		if system != "" && strings.HasPrefix(section, "Role:\n") {
			continue
		}
		user = append(user, section)
	}
	out.Text = body
	out.Messages = []llm.Message{{Role: "user", Content: strings.Join(user, "\n\n")}}
	return out, nil
}
