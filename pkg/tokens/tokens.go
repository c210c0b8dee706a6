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

// Package tokens counts and estimates LLM token usage.
//
// When the model's encoding is known to tiktoken an exact count is used;
// otherwise Estimate falls back to the ceil(bytes/4) heuristic, which is
// also what providers get when a vendor response omits usage.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimate returns the byte-based token estimate ceil(len(text)/4).
// It never fails and is the documented fallback when no encoding is
// available.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Counter counts tokens for a specific model.
type Counter struct {
	encoding *tiktoken.Tiktoken
}

var (
	counterMu    sync.Mutex
	counterCache = make(map[string]*Counter)
)

// NewCounter creates a counter for model. Models without a known
// encoding get a nil encoding and fall back to Estimate.
func NewCounter(model string) *Counter {
	counterMu.Lock()
	defer counterMu.Unlock()

	if c, ok := counterCache[model]; ok {
		return c
	}

	c := &Counter{}
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		c.encoding = enc
	} else if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		c.encoding = enc
	}
	counterCache[model] = c
	return c
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return Estimate(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CountAll returns the summed token count of all texts.
func (c *Counter) CountAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}
