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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/memory"
	"github.com/quorumhq/quorum/pkg/model"
)

func claudeModel() *model.Descriptor {
	return &model.Descriptor{ID: "anthropic/claude-sonnet-4", Provider: "anthropic", Name: "claude-sonnet-4"}
}

func openAIModel() *model.Descriptor {
	return &model.Descriptor{ID: "openai/gpt-4o", Provider: "openai", Name: "gpt-4o"}
}

func TestRenderSectionOrder(t *testing.T) {
	tpl := &Template{
		Name:        "full",
		Role:        "r",
		Task:        "t",
		Format:      "f",
		Context:     "c",
		Constraints: []string{"k"},
		Examples:    []string{"e"},
	}
	out, err := Render(tpl, nil, nil, openAIModel())
	require.NoError(t, err)

	order := []string{"Role:", "Task:", "Format:", "Context:", "Constraints:", "Examples:"}
	last := -1
	for _, header := range order {
		idx := strings.Index(out.Text, header)
		require.GreaterOrEqual(t, idx, 0, header)
		assert.Greater(t, idx, last, header)
		last = idx
	}
}

func TestRenderKeepsConstraintOrder(t *testing.T) {
	tpl := &Template{
		Name:        "ordered",
		Task:        "t",
		Constraints: []string{"cite every claim", "never exceed {budget} calls", "prefer primary sources"},
		Examples:    []string{"input: a\noutput: b", "input: c\noutput: d"},
	}
	out, err := Render(tpl, map[string]any{"budget": 3}, nil, openAIModel())
	require.NoError(t, err)

	assert.Contains(t, out.Text,
		"Constraints:\ncite every claim\nnever exceed 3 calls\nprefer primary sources")
	assert.Contains(t, out.Text, "Examples:\ninput: a\noutput: b\ninput: c\noutput: d")
}

func TestRenderOmitsEmptySections(t *testing.T) {
	tpl := &Template{Name: "sparse", Task: "do the thing"}
	out, err := Render(tpl, nil, nil, openAIModel())
	require.NoError(t, err)

	assert.NotContains(t, out.Text, "Role:")
	assert.NotContains(t, out.Text, "Examples:")
	assert.Contains(t, out.Text, "Task:\ndo the thing")
	assert.Empty(t, out.System)
}

func TestRenderSubstitution(t *testing.T) {
	tpl := &Template{Name: "vars", Task: "research {topic} within {limit} steps"}
	out, err := Render(tpl, map[string]any{"topic": "caching", "limit": 3}, nil, openAIModel())
	require.NoError(t, err)
	assert.Contains(t, out.Text, "research caching within 3 steps")
}

func TestRenderUnboundPlaceholder(t *testing.T) {
	tpl := &Template{Name: "vars", Task: "research {topic}"}
	_, err := Render(tpl, map[string]any{}, nil, openAIModel())
	require.Error(t, err)

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindValidation, f.Kind)
	assert.Equal(t, "topic", f.Details["placeholder"])
}

func TestRenderNonSerializableVariable(t *testing.T) {
	tpl := &Template{Name: "vars", Task: "use {thing}"}
	_, err := Render(tpl, map[string]any{"thing": func() {}}, nil, openAIModel())
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestRenderZeroPlaceholdersIgnoresVariables(t *testing.T) {
	tpl := &Template{Name: "static", Task: "fixed task"}
	a, err := Render(tpl, nil, nil, openAIModel())
	require.NoError(t, err)
	b, err := Render(tpl, map[string]any{"unused": "x"}, nil, openAIModel())
	require.NoError(t, err)
	assert.Equal(t, a.Text, b.Text)
}

func TestRenderClaudeWrapping(t *testing.T) {
	tpl := &Template{Name: "c", Role: "helper", Task: "answer {q}"}
	out, err := Render(tpl, map[string]any{"q": "why"}, nil, claudeModel())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.Text, "\n\nHuman: "))
	assert.True(t, strings.HasSuffix(out.Text, "\n\nAssistant:"))
	assert.Contains(t, out.Text, "answer why")
}

func TestRenderChatFormatSplitsSystem(t *testing.T) {
	tpl := &Template{Name: "chat", Role: "helper", Task: "do it"}
	out, err := Render(tpl, nil, nil, openAIModel())
	require.NoError(t, err)

	assert.Equal(t, "helper", out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.NotContains(t, out.Messages[0].Content, "Role:")
	assert.Contains(t, out.Messages[0].Content, "Task:\ndo it")
}

func TestRenderIncludesMemoryContext(t *testing.T) {
	mem := memory.NewContextual()
	mem.Remember("obs", "the deploy failed at step 3")

	tpl := &Template{Name: "m", Task: "diagnose"}
	out, err := Render(tpl, nil, mem, openAIModel())
	require.NoError(t, err)
	assert.Contains(t, out.Text, "Context:")
	assert.Contains(t, out.Text, "the deploy failed at step 3")
}

func TestRenderIsPure(t *testing.T) {
	mem := memory.NewContextual()
	mem.Remember("k", "v")
	tpl := &Template{Name: "p", Role: "r", Task: "solve {x}"}
	vars := map[string]any{"x": "it"}

	a, err := Render(tpl, vars, mem, claudeModel())
	require.NoError(t, err)
	b, err := Render(tpl, vars, mem, claudeModel())
	require.NoError(t, err)
	assert.Equal(t, a.Text, b.Text)
	assert.Equal(t, a.Messages, b.Messages)
}

func TestStoreLookup(t *testing.T) {
	s := NewStore()

	tpl, err := s.Get("researcher")
	require.NoError(t, err)
	assert.Contains(t, tpl.Task, "{topic}")

	_, err = s.Get("nope")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	require.NoError(t, s.Add(&Template{Name: "custom", Task: "x"}))
	got, err := s.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Task)

	// Replacing an existing name keeps the store consistent.
	require.NoError(t, s.Add(&Template{Name: "custom", Task: "y"}))
	got, err = s.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "y", got.Task)
}
