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

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/llm"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/prompt"
)

func testGateway(t *testing.T) (*gateway.Gateway, *llm.FakeProvider) {
	t.Helper()
	d := model.Descriptor{
		ID:              "openai/gpt-4o",
		Provider:        "openai",
		Name:            "gpt-4o",
		Capabilities:    []model.Capability{model.CapTextGeneration},
		ContextWindow:   128000,
		InputPricePerM:  1,
		OutputPricePerM: 2,
		MeanLatencyMS:   200,
		Quality:         0.9,
	}
	reg, err := model.NewRegistry("test", []model.Descriptor{d}, map[string]string{})
	require.NoError(t, err)

	fake := llm.NewFake("openai", []model.Descriptor{d})
	providers := llm.NewRegistry()
	require.NoError(t, providers.Register("openai", fake))

	return gateway.New(reg, providers), fake
}

func TestExecuteRecordsCountersAndMemory(t *testing.T) {
	gw, _ := testGateway(t)
	a, err := New(Config{Name: "worker-1", Role: "executor"}, gw, prompt.NewStore())
	require.NoError(t, err)

	res, err := a.Execute(context.Background(), "summarize the incident", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Content)
	assert.Positive(t, res.CostUSD)

	c := a.Counters()
	assert.Equal(t, 1, c.TasksCompleted)
	assert.Zero(t, c.TasksFailed)
	assert.Positive(t, c.TotalTokens)

	v, ok := a.Memory().Recall("input")
	require.True(t, ok)
	assert.Equal(t, "summarize the incident", v)
	_, ok = a.Memory().Recall("response")
	assert.True(t, ok)

	assert.Equal(t, StatusIdle, a.Status())
}

func TestExecuteFailureCountsAndPropagates(t *testing.T) {
	gw, fake := testGateway(t)
	fake.Respond = func(req *llm.Request) (string, error) {
		return "", fault.Provider("transient", false, "down")
	}

	a, err := New(Config{Name: "worker-1", Role: "executor"}, gw, prompt.NewStore())
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "do it", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindProvider, fault.KindOf(err))
	assert.Equal(t, 1, a.Counters().TasksFailed)
	assert.Equal(t, StatusError, a.Status())

	// An errored agent stays in rotation.
	fake.Respond = nil
	_, err = a.Execute(context.Background(), "do it again", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, a.Status())
}

func TestMeanLatencyEWMA(t *testing.T) {
	gw, _ := testGateway(t)
	a, err := New(Config{Name: "worker-1", Role: "executor"}, gw, prompt.NewStore())
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "first", nil)
	require.NoError(t, err)
	first := a.Counters().MeanLatencyMS
	assert.Positive(t, first)

	_, err = a.Execute(context.Background(), "second", nil)
	require.NoError(t, err)
	c := a.Counters()
	assert.Equal(t, 2, c.TasksCompleted)
	assert.Positive(t, c.MeanLatencyMS)
	// Second sample is smoothed in, never accumulated.
	assert.InDelta(t, first, c.MeanLatencyMS, first+1000)
}

func TestExecuteUnknownTemplate(t *testing.T) {
	gw, _ := testGateway(t)
	a, err := New(Config{Name: "w", Role: "nonexistent-role"}, gw, prompt.NewStore())
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestDisabledAgentRejectsWork(t *testing.T) {
	gw, _ := testGateway(t)
	a, err := New(Config{Name: "w", Role: "executor"}, gw, prompt.NewStore())
	require.NoError(t, err)

	a.Disable()
	assert.Equal(t, StatusDisabled, a.Status())
	_, err = a.Execute(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestNewValidation(t *testing.T) {
	gw, _ := testGateway(t)
	_, err := New(Config{Role: "executor"}, gw, prompt.NewStore())
	require.Error(t, err)
	_, err = New(Config{Name: "w"}, gw, prompt.NewStore())
	require.Error(t, err)
}

func TestPinnedModelUsesClaudeFormat(t *testing.T) {
	d := model.Descriptor{
		ID:              "anthropic/claude-sonnet-4",
		Provider:        "anthropic",
		Name:            "claude-sonnet-4",
		Capabilities:    []model.Capability{model.CapTextGeneration},
		ContextWindow:   200000,
		InputPricePerM:  3,
		OutputPricePerM: 15,
		MeanLatencyMS:   900,
		Quality:         0.95,
	}
	reg, err := model.NewRegistry("test", []model.Descriptor{d}, map[string]string{})
	require.NoError(t, err)

	fake := llm.NewFake("anthropic", []model.Descriptor{d})
	var seen *llm.Request
	fake.Respond = func(req *llm.Request) (string, error) {
		seen = req
		return "ok", nil
	}
	providers := llm.NewRegistry()
	require.NoError(t, providers.Register("anthropic", fake))
	gw := gateway.New(reg, providers)

	a, err := New(Config{Name: "w", Role: "executor", ModelID: d.ID}, gw, prompt.NewStore())
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "review the plan", nil)
	require.NoError(t, err)
	require.NotNil(t, seen)
	require.Len(t, seen.Messages, 1)
	assert.Contains(t, seen.Messages[0].Content, "Human:")
	assert.Contains(t, seen.Messages[0].Content, "Assistant:")
}
