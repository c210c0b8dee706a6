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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UsageRecord describes one gateway call, cached or not.
type UsageRecord struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ModelID      string         `json:"model_id"`
	Provider     string         `json:"provider"`
	TaskType     string         `json:"task_type,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	TotalTokens  int            `json:"total_tokens"`
	CostUSD      float64        `json:"cost_usd"`
	LatencyMS    int64          `json:"latency_ms"`
	WasCached    bool           `json:"was_cached"`
	Success      bool           `json:"success"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UsageSink receives usage records out of band. Implementations must
// not block the caller.
type UsageSink interface {
	Record(rec UsageRecord)
	Close()
}

// BufferedSink queues records on a channel drained by one goroutine.
// When the buffer is full the record is dropped with a warning rather
// than blocking the model call.
type BufferedSink struct {
	ch      chan UsageRecord
	done    chan struct{}
	handler func(rec UsageRecord)

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// NewBufferedSink creates a sink draining into handler. A nil handler
// retains the records in memory, visible via Records.
func NewBufferedSink(size int, handler func(rec UsageRecord)) *BufferedSink {
	if size <= 0 {
		size = 256
	}
	s := &BufferedSink{
		ch:      make(chan UsageRecord, size),
		done:    make(chan struct{}),
		handler: handler,
	}
	go s.drain()
	return s
}

func (s *BufferedSink) drain() {
	defer close(s.done)
	for rec := range s.ch {
		if s.handler != nil {
			s.handler(rec)
		}
	}
}

// Record enqueues without blocking.
func (s *BufferedSink) Record(rec UsageRecord) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.ch <- rec:
		s.mu.Unlock()
	default:
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		slog.Warn("usage sink buffer full, dropping record",
			"model", rec.ModelID, "dropped_total", n)
	}
}

// Dropped reports how many records were lost to a full buffer.
func (s *BufferedSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the drain goroutine after flushing queued records.
func (s *BufferedSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
}

// MemorySink retains every record, for tests and the in-memory mode.
type MemorySink struct {
	mu   sync.Mutex
	recs []UsageRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Record appends the record.
func (s *MemorySink) Record(rec UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

// Records returns a copy of everything recorded so far.
func (s *MemorySink) Records() []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

// Close is a no-op.
func (s *MemorySink) Close() {}

func newUsageID() string { return uuid.NewString() }
