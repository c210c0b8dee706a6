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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/fault"
)

func TestToolStreamTerminatesOnFinal(t *testing.T) {
	s := NewToolStream(4)

	require.NoError(t, s.Progress(json.RawMessage(`{"fraction":0.5}`)))
	require.NoError(t, s.Partial(json.RawMessage(`{"text":"partial"}`)))
	require.NoError(t, s.Final(json.RawMessage(`{"text":"done"}`)))

	var kinds []string
	for f := range s.Frames() {
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []string{ToolFrameProgress, ToolFramePartial, ToolFrameFinal}, kinds)

	// Closed channel reads report end-of-stream.
	_, open := <-s.Frames()
	assert.False(t, open)

	err := s.Progress(nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestToolStreamBackpressureSerializesProducers(t *testing.T) {
	s := NewToolStream(1)

	require.NoError(t, s.Progress(json.RawMessage(`{"n":1}`)))

	// Buffer is full: the next send blocks until the consumer drains.
	sent := make(chan struct{})
	go func() {
		assert.NoError(t, s.Progress(json.RawMessage(`{"n":2}`)))
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatal("send completed against a full buffer")
	case <-time.After(20 * time.Millisecond):
	}

	f := <-s.Frames()
	assert.Equal(t, ToolFrameProgress, f.Kind)

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("blocked producer never resumed")
	}

	go func() {
		assert.NoError(t, s.Final(nil))
	}()

	var kinds []string
	for f := range s.Frames() {
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []string{ToolFrameProgress, ToolFrameFinal}, kinds)
}

func TestToolStreamTerminatesOnError(t *testing.T) {
	s := NewToolStream(2)

	require.NoError(t, s.Error(json.RawMessage(`{"message":"boom"}`)))
	require.Error(t, s.Final(nil))

	f, open := <-s.Frames()
	require.True(t, open)
	assert.Equal(t, ToolFrameError, f.Kind)

	_, open = <-s.Frames()
	assert.False(t, open)
}
