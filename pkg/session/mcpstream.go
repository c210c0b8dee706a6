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

package session

import (
	"encoding/json"
	"sync"

	"github.com/quorumhq/quorum/pkg/fault"
)

// Streaming tool response frame kinds. A sequence is terminated by a
// final or error frame.
const (
	ToolFrameProgress = "progress"
	ToolFramePartial  = "partial"
	ToolFrameFinal    = "final"
	ToolFrameError    = "error"
)

// ToolFrame is one frame of a streaming tool response.
type ToolFrame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToolStream carries a streaming tool response from producer to
// consumer. The producer closes the channel by emitting a final or
// error frame; the consumer treats a closed channel as end-of-stream.
type ToolStream struct {
	mu   sync.Mutex
	ch   chan ToolFrame
	done bool
}

// NewToolStream creates a stream with the given frame buffer.
func NewToolStream(buffer int) *ToolStream {
	if buffer < 1 {
		buffer = 16
	}
	return &ToolStream{ch: make(chan ToolFrame, buffer)}
}

// Frames is the consumer side of the stream.
func (s *ToolStream) Frames() <-chan ToolFrame { return s.ch }

// Progress emits an intermediate progress frame.
func (s *ToolStream) Progress(payload json.RawMessage) error {
	return s.send(ToolFrameProgress, payload, false)
}

// Partial emits a partial-content frame.
func (s *ToolStream) Partial(payload json.RawMessage) error {
	return s.send(ToolFramePartial, payload, false)
}

// Final emits the terminal success frame and closes the stream.
func (s *ToolStream) Final(payload json.RawMessage) error {
	return s.send(ToolFrameFinal, payload, true)
}

// Error emits the terminal error frame and closes the stream.
func (s *ToolStream) Error(payload json.RawMessage) error {
	return s.send(ToolFrameError, payload, true)
}

// send holds the lock across the channel send: a terminal frame can
// never close the channel while another producer is blocked mid-send.
// A full buffer therefore backpressures every producer until the
// consumer drains.
func (s *ToolStream) send(kind string, payload json.RawMessage, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fault.Conflict("stream already terminated")
	}
	s.ch <- ToolFrame{Kind: kind, Payload: payload}
	if terminal {
		s.done = true
		close(s.ch)
	}
	return nil
}
