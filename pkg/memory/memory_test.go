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

package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressAtThreshold(t *testing.T) {
	m := NewContextual(WithCompressThreshold(3))

	m.Remember("a", "alpha")
	m.Remember("b", "beta")
	m.Remember("c", "gamma")
	assert.Equal(t, 3, m.ShortTermLen())

	// The fourth write triggers compression first.
	m.Remember("d", "delta")
	assert.Equal(t, 1, m.ShortTermLen())

	summary := m.Summary()
	require.Contains(t, summary, SummaryKey)
	assert.Equal(t, "alpha | beta | gamma", summary[SummaryKey])
}

func TestCompressPreservesInsertionOrder(t *testing.T) {
	m := NewContextual()
	for i := 0; i < DefaultCompressThreshold; i++ {
		m.Remember(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}
	m.Compress()

	assert.Zero(t, m.ShortTermLen())
	got := m.Summary()[SummaryKey]
	last := -1
	for i := 0; i < DefaultCompressThreshold; i++ {
		idx := strings.Index(got, fmt.Sprintf("v%d", i))
		require.GreaterOrEqual(t, idx, 0)
		assert.Greater(t, idx, last)
		last = idx
	}
}

func TestCompressAccumulates(t *testing.T) {
	m := NewContextual(WithCompressThreshold(2))
	m.Remember("a", "one")
	m.Remember("b", "two")
	m.Compress()
	m.Remember("c", "three")
	m.Compress()

	assert.Equal(t, "one | two | three", m.Summary()[SummaryKey])
}

func TestCompressEmptyIsNoop(t *testing.T) {
	m := NewContextual()
	m.Compress()
	assert.Empty(t, m.Summary())
}

func TestLongTermNeverCompressed(t *testing.T) {
	m := NewContextual(WithCompressThreshold(2))
	m.RememberLongTerm("project", "quorum")
	m.Remember("a", "x")
	m.Remember("b", "y")
	m.Remember("c", "z")

	v, ok := m.Recall("project")
	require.True(t, ok)
	assert.Equal(t, "quorum", v)
	require.Len(t, m.LongTerm(), 1)
}

func TestLongTermUpdateInPlace(t *testing.T) {
	m := NewContextual()
	m.RememberLongTerm("env", "staging")
	m.RememberLongTerm("owner", "core")
	m.RememberLongTerm("env", "production")

	lt := m.LongTerm()
	require.Len(t, lt, 2)
	assert.Equal(t, "env", lt[0].Key)
	assert.Equal(t, "production", lt[0].Value)
}

func TestRecallPrefersNewestShortTerm(t *testing.T) {
	m := NewContextual()
	m.Remember("status", "starting")
	m.Remember("status", "running")

	v, ok := m.Recall("status")
	require.True(t, ok)
	assert.Equal(t, "running", v)

	_, ok = m.Recall("missing")
	assert.False(t, ok)
}

func TestContextOrdering(t *testing.T) {
	m := NewContextual(WithCompressThreshold(2))
	m.Remember("a", "old1")
	m.Remember("b", "old2")
	m.Compress()
	m.RememberLongTerm("fact", "stable")
	m.Remember("c", "fresh")

	ctx := m.Context()
	iSummary := strings.Index(ctx, "old1 | old2")
	iLong := strings.Index(ctx, "fact: stable")
	iShort := strings.Index(ctx, "fresh")
	require.GreaterOrEqual(t, iSummary, 0)
	require.Greater(t, iLong, iSummary)
	require.Greater(t, iShort, iLong)
}

func TestClear(t *testing.T) {
	m := NewContextual()
	m.Remember("a", "x")
	m.RememberLongTerm("b", "y")
	m.Compress()
	m.Clear()

	assert.Zero(t, m.ShortTermLen())
	assert.Empty(t, m.LongTerm())
	assert.Empty(t, m.Summary())
	assert.Empty(t, m.Context())
}
