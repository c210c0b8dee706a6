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

package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/fault"
)

func TestCalculatorSeedExpressions(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	res, err := reg.Call(ctx, "calculate", map[string]any{"expression": "2 + 3 * 4"})
	require.NoError(t, err)
	require.True(t, res.Success)
	out := res.Output.(map[string]any)
	assert.Equal(t, 14.0, out["result"])

	res, err = reg.Call(ctx, "calculate", map[string]any{"expression": "sqrt(16)"})
	require.NoError(t, err)
	require.True(t, res.Success)
	out = res.Output.(map[string]any)
	assert.Equal(t, 4.0, out["result"])

	res, err = reg.Call(ctx, "calculate", map[string]any{"expression": "invalid_expression"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, "calculate", res.ToolName)
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1 + 2 - 3", 0},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"2 ^ 3 ^ 2", 512}, // right-associative
		{"-3 + 5", 2},
		{"--4", 4},
		{"abs(-7)", 7},
		{"min(3, 8)", 3},
		{"max(3, 8)", 8},
		{"pow(2, 10)", 1024},
		{"sqrt(2) ^ 2", 2.0000000000000004},
		{"pi * 0", 0},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.InDelta(t, tc.want, got, 1e-12, tc.expr)
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"2 +",
		"(1 + 2",
		"1 / 0",
		"sqrt(-1)",
		"sqrt(1, 2)",
		"frobnicate(3)",
		"2 3",
		"1..5 + 2",
	} {
		_, err := Evaluate(expr)
		require.Error(t, err, expr)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Call(context.Background(), "teleport", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	assert.Equal(t, []string{"calculate"}, reg.Names())
}

func TestCalculatorMissingExpression(t *testing.T) {
	res, err := NewCalculator().Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
