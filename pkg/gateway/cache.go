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

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quorumhq/quorum/pkg/llm"
)

// Fingerprint identifies a generation request for caching. Requests
// with the same prompt, model, temperature, output cap, and tool set
// share one entry.
func Fingerprint(req *llm.Request) string {
	h := sha256.New()

	for _, m := range req.Messages {
		fmt.Fprintf(h, "%s\x1f%s\x1e", m.Role, m.Content)
	}
	fmt.Fprintf(h, "system\x1f%s\x1e", req.System)
	fmt.Fprintf(h, "model\x1f%s\x1e", req.Model.ID)
	fmt.Fprintf(h, "temperature\x1f%g\x1e", req.Temperature)
	fmt.Fprintf(h, "max_tokens\x1f%d\x1e", req.MaxTokens)
	fmt.Fprintf(h, "tools\x1f%s\x1e", toolsSignature(req.Tools))

	return hex.EncodeToString(h.Sum(nil))
}

func toolsSignature(tools []llm.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		schema, _ := json.Marshal(t.Parameters)
		names = append(names, t.Name+":"+string(schema))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

type cacheEntry struct {
	resp     *llm.Response
	storedAt time.Time
}

// ResponseCache stores completed generations by fingerprint with a TTL.
type ResponseCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   int64
	misses int64
}

// NewResponseCache creates a cache with the given TTL. A zero ttl
// defaults to one hour.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the live entry for key, if any.
func (c *ResponseCache) Get(key string) (*llm.Response, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.resp, true
}

// Put stores a successful response under key.
func (c *ResponseCache) Put(key string, resp *llm.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{resp: resp, storedAt: c.now()}
}

// Invalidate drops one key.
func (c *ResponseCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops every expired entry and reports how many were removed.
func (c *ResponseCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	removed := 0
	for k, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats reports hit and miss counts since startup.
func (c *ResponseCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Len reports the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
