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

package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Estimate(tc.text), "%q", tc.text)
	}
}

func TestCounterCount(t *testing.T) {
	c := NewCounter("gpt-4o")
	require.NotNil(t, c)

	assert.Equal(t, 0, c.Count(""))

	// Exact counts depend on the encoding; only the bounds are stable.
	text := "Hello, world! This is a token counting test."
	n := c.Count(text)
	assert.Greater(t, n, 0)
	assert.LessOrEqual(t, n, len(text))
}

func TestCounterIsCachedPerModel(t *testing.T) {
	a := NewCounter("gpt-4o")
	b := NewCounter("gpt-4o")
	assert.Same(t, a, b)
}

func TestCountAll(t *testing.T) {
	c := NewCounter("some-unknown-model")
	texts := []string{"one", "two two", "three three three"}

	want := 0
	for _, s := range texts {
		want += c.Count(s)
	}
	assert.Equal(t, want, c.CountAll(texts))
}

func TestNilCounterFallsBackToEstimate(t *testing.T) {
	var c *Counter
	assert.Equal(t, Estimate("abcdefgh"), c.Count("abcdefgh"))
}
