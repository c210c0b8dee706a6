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
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/llm"
	"github.com/quorumhq/quorum/pkg/model"
)

func clientInfo() mcp.Implementation {
	return mcp.Implementation{Name: "test-client", Version: "0.1.0"}
}

func TestCreateMCPNegotiatesCapabilities(t *testing.T) {
	svc := NewService(Options{})

	sess, err := svc.CreateMCP("", clientInfo(), []string{"tools", "prompts", "telepathy"})
	require.NoError(t, err)

	assert.Equal(t, KindMCP, sess.Kind)
	assert.NotPanics(t, func() { uuid.MustParse(sess.ID) })
	// Intersection with the server feature set plus mandatory features.
	assert.Equal(t, []string{"ping", "prompts", "tools"}, sess.ServerCaps)
	assert.True(t, sess.Active)
	assert.Equal(t, "test-client", sess.ClientInfo.Name)
}

func TestCreateMCPDuplicateIDConflicts(t *testing.T) {
	svc := NewService(Options{})
	_, err := svc.CreateMCP("fixed-id", clientInfo(), nil)
	require.NoError(t, err)
	_, err = svc.CreateMCP("fixed-id", clientInfo(), nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestSessionLimit(t *testing.T) {
	svc := NewService(Options{MaxSessions: 2})
	_, err := svc.CreateMCP("", clientInfo(), nil)
	require.NoError(t, err)
	second, err := svc.CreateMCP("", clientInfo(), nil)
	require.NoError(t, err)

	_, err = svc.CreateMCP("", clientInfo(), nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindCapacity, fault.KindOf(err))

	// Closing one frees a slot.
	require.NoError(t, svc.Close(second.ID))
	_, err = svc.CreateMCP("", clientInfo(), nil)
	require.NoError(t, err)
}

func TestTouchAndExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(Options{IdleTimeout: 10 * time.Minute})
	svc.now = func() time.Time { return now }

	sess, err := svc.CreateMCP("", clientInfo(), nil)
	require.NoError(t, err)

	// Still fresh after 9 minutes with a touch at +5.
	now = now.Add(5 * time.Minute)
	require.NoError(t, svc.Touch(sess.ID))
	now = now.Add(9 * time.Minute)
	assert.Equal(t, 0, svc.ExpireIdle())

	// 11 minutes after the touch it expires.
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, svc.ExpireIdle())

	got, err := svc.Get(sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// Touching a closed session is a conflict; closing again is not.
	err = svc.Touch(sess.ID)
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
	require.NoError(t, svc.Close(sess.ID))
}

func TestCreateA2AHandshake(t *testing.T) {
	svc := NewService(Options{IdleTimeout: time.Hour})

	resp, err := svc.CreateA2A(Handshake{
		AgentID:         "peer-1",
		AgentName:       "Peer",
		Capabilities:    []string{"tools", "summarize"},
		ProtocolVersion: "1.0",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Contains(t, resp.ServerCapabilities, "tools")
	assert.False(t, resp.ExpiresAt.IsZero())

	sess, err := svc.Get(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, KindA2A, sess.Kind)
	assert.Equal(t, "peer-1", sess.AgentID)

	_, err = svc.CreateA2A(Handshake{AgentID: "peer-2", ProtocolVersion: "9.9"})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = svc.CreateA2A(Handshake{})
	require.Error(t, err)
}

type recordingStream struct {
	frames []Frame
}

func (r *recordingStream) Send(f Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

func TestStreamDelivery(t *testing.T) {
	svc := NewService(Options{})
	resp, err := svc.CreateA2A(Handshake{AgentID: "peer-1"})
	require.NoError(t, err)
	id := resp.SessionID

	stream := &recordingStream{}
	require.NoError(t, svc.AttachStream(id, stream))

	// Double attach conflicts.
	err = svc.AttachStream(id, &recordingStream{})
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))

	require.NoError(t, svc.Deliver(id, []byte(`{"kind":"task_start","payload":{"name":"x"}}`)))
	require.NoError(t, svc.Deliver(id, []byte(`{"kind":"ping"}`)))

	err = svc.Deliver(id, []byte(`{"kind":"teleport"}`))
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	err = svc.Deliver(id, []byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	require.Len(t, stream.frames, 2)
	assert.Equal(t, FrameTaskStart, stream.frames[0].Kind)
	assert.Equal(t, FramePong, stream.frames[1].Kind)

	require.NoError(t, svc.DetachStream(id))
	err = svc.Deliver(id, []byte(`{"kind":"ping"}`))
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func negotiatorFixture(t *testing.T) *Negotiator {
	t.Helper()
	d := model.Descriptor{
		ID:              "openai/gpt-4o",
		Provider:        "openai",
		Name:            "gpt-4o",
		Capabilities:    []model.Capability{model.CapTextGeneration},
		ContextWindow:   128000,
		InputPricePerM:  1,
		OutputPricePerM: 2,
		MeanLatencyMS:   500,
		Quality:         0.9,
	}
	reg, err := model.NewRegistry("test", []model.Descriptor{d}, map[string]string{})
	require.NoError(t, err)
	providers := llm.NewRegistry()
	require.NoError(t, providers.Register("openai", llm.NewFake("openai", []model.Descriptor{d})))

	svc := NewService(Options{})
	return NewNegotiator(svc, gateway.New(reg, providers))
}

func TestNegotiate(t *testing.T) {
	n := negotiatorFixture(t)
	resp, err := n.svc.CreateA2A(Handshake{
		AgentID:      "peer-1",
		Capabilities: []string{"summarize", "classify"},
	})
	require.NoError(t, err)

	ok, plan, err := n.Negotiate(resp.SessionID, []string{"summarize"}, "summarize this report")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, plan)
	assert.Equal(t, "openai/gpt-4o", plan.ModelID)
	assert.Equal(t, 500*time.Millisecond, plan.EstimatedDuration)
	assert.Positive(t, plan.EstimatedCostUSD)

	// A skill the agent never declared is rejected, without error.
	ok, plan, err = n.Negotiate(resp.SessionID, []string{"summarize", "translate"}, "task")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, plan)

	_, _, err = n.Negotiate("missing", []string{"summarize"}, "task")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(Options{})
	sess, err := svc.CreateMCP("", clientInfo(), []string{"tools"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, sess.ServerCaps, loaded.ServerCaps)

	active, err := store.LoadActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Closing then saving makes it prunable.
	sess.Active = false
	require.NoError(t, store.Save(ctx, sess))
	n, err := store.PruneClosed(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Load(ctx, sess.ID)
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}
