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

package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	h.Set("x-ratelimit-reset-requests", "1754900000")
	h.Set("x-ratelimit-remaining-requests", "12")
	h.Set("x-ratelimit-remaining-tokens", "34000")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 7*time.Second, info.RetryAfter)
	assert.Equal(t, int64(1754900000), info.ResetTime)
	assert.Equal(t, 12, info.RequestsRemaining)
	assert.Equal(t, 34000, info.TokensRemaining)
}

func TestParseAnthropicHeaders(t *testing.T) {
	reset := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("retry-after", "3")
	h.Set("anthropic-ratelimit-requests-reset", reset.Format(time.RFC3339))
	h.Set("anthropic-ratelimit-requests-remaining", "5")

	info := ParseAnthropicHeaders(h)
	assert.Equal(t, 3*time.Second, info.RetryAfter)
	assert.Equal(t, reset.Unix(), info.ResetTime)
	assert.Equal(t, 5, info.RequestsRemaining)
}

func TestParseGeminiHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "11")
	assert.Equal(t, 11*time.Second, ParseGeminiHeaders(h).RetryAfter)

	assert.Zero(t, ParseGeminiHeaders(http.Header{}).RetryAfter)
}

func TestParsersIgnoreMalformedValues(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "soon")
	h.Set("x-ratelimit-reset-requests", "not-a-number")

	info := ParseOpenAIHeaders(h)
	assert.Zero(t, info.RetryAfter)
	assert.Zero(t, info.ResetTime)
}
