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

// Package memory is the per-agent contextual memory: a short-term tier
// that self-compresses into a summary tier, and a long-term tier that
// is never compressed.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/quorumhq/quorum/pkg/tokens"
)

// DefaultCompressThreshold is the short-term entry count that triggers
// compression.
const DefaultCompressThreshold = 8

// SummaryKey is where compression deposits the rolled-up context.
const SummaryKey = "recent_context"

// Entry is one remembered key/value pair.
type Entry struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// Contextual is a three-tier memory owned by one agent in one session.
// All methods are safe for concurrent use.
type Contextual struct {
	mu        sync.Mutex
	threshold int

	shortTerm []Entry
	longTerm  []Entry
	summary   map[string]string
}

// Option configures a Contextual memory.
type Option func(*Contextual)

// WithCompressThreshold overrides the short-term size that triggers
// compression. Values below one fall back to the default.
func WithCompressThreshold(n int) Option {
	return func(m *Contextual) {
		if n >= 1 {
			m.threshold = n
		}
	}
}

// NewContextual creates an empty memory.
func NewContextual(opts ...Option) *Contextual {
	m := &Contextual{
		threshold: DefaultCompressThreshold,
		summary:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Remember stores a short-term entry, compressing first if the tier is
// already at the threshold.
func (m *Contextual) Remember(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.shortTerm) >= m.threshold {
		m.compressLocked()
	}
	m.shortTerm = append(m.shortTerm, Entry{Key: key, Value: value, At: time.Now()})
}

// RememberLongTerm stores a durable entry. An existing key is updated
// in place, keeping its position.
func (m *Contextual) RememberLongTerm(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.longTerm {
		if m.longTerm[i].Key == key {
			m.longTerm[i].Value = value
			m.longTerm[i].At = time.Now()
			return
		}
	}
	m.longTerm = append(m.longTerm, Entry{Key: key, Value: value, At: time.Now()})
}

// Recall looks a key up across tiers: short-term newest-first, then
// long-term, then summary.
func (m *Contextual) Recall(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.shortTerm) - 1; i >= 0; i-- {
		if m.shortTerm[i].Key == key {
			return m.shortTerm[i].Value, true
		}
	}
	for i := range m.longTerm {
		if m.longTerm[i].Key == key {
			return m.longTerm[i].Value, true
		}
	}
	v, ok := m.summary[key]
	return v, ok
}

// Compress rolls the short-term tier into the summary. Afterwards the
// short-term tier is empty and summary["recent_context"] holds the
// concatenated values in insertion order.
func (m *Contextual) Compress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compressLocked()
}

func (m *Contextual) compressLocked() {
	if len(m.shortTerm) == 0 {
		return
	}
	parts := make([]string, 0, len(m.shortTerm)+1)
	if prev, ok := m.summary[SummaryKey]; ok && prev != "" {
		parts = append(parts, prev)
	}
	for _, e := range m.shortTerm {
		parts = append(parts, e.Value)
	}
	m.summary[SummaryKey] = strings.Join(parts, " | ")
	m.shortTerm = nil
}

// Context assembles the prompt-ready context block: summary first,
// then long-term entries, then live short-term entries.
func (m *Contextual) Context() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	if s, ok := m.summary[SummaryKey]; ok && s != "" {
		b.WriteString(s)
	}
	for _, e := range m.longTerm {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.Key)
		b.WriteString(": ")
		b.WriteString(e.Value)
	}
	for _, e := range m.shortTerm {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.Value)
	}
	return b.String()
}

// ShortTermLen reports the live short-term entry count.
func (m *Contextual) ShortTermLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shortTerm)
}

// Summary returns a copy of the summary tier.
func (m *Contextual) Summary() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.summary))
	for k, v := range m.summary {
		out[k] = v
	}
	return out
}

// LongTerm returns a copy of the long-term tier in insertion order.
func (m *Contextual) LongTerm() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.longTerm))
	copy(out, m.longTerm)
	return out
}

// TokenEstimate approximates how many tokens the context block costs.
func (m *Contextual) TokenEstimate() int {
	return tokens.Estimate(m.Context())
}

// Clear drops every tier.
func (m *Contextual) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm = nil
	m.longTerm = nil
	m.summary = make(map[string]string)
}
