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
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/tokens"
)

// a2aProtocolVersion is the A2A handshake revision.
const a2aProtocolVersion = "1.0"

// Frame kinds an A2A stream may carry.
const (
	FrameHandshake    = "handshake"
	FrameNegotiate    = "negotiate"
	FrameTaskStart    = "task_start"
	FrameTaskProgress = "task_progress"
	FrameTaskResult   = "task_result"
	FrameCancel       = "cancel"
	FramePing         = "ping"
	FramePong         = "pong"
)

var knownFrameKinds = map[string]bool{
	FrameHandshake:    true,
	FrameNegotiate:    true,
	FrameTaskStart:    true,
	FrameTaskProgress: true,
	FrameTaskResult:   true,
	FrameCancel:       true,
	FramePing:         true,
	FramePong:         true,
}

// Frame is one kind-tagged stream message.
type Frame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Stream is a live bi-directional peer channel.
type Stream interface {
	Send(frame Frame) error
}

// Handshake is the A2A session-open request.
type Handshake struct {
	AgentID         string   `json:"agent_id"`
	AgentName       string   `json:"agent_name"`
	Capabilities    []string `json:"capabilities"`
	ProtocolVersion string   `json:"protocol_version"`
}

// HandshakeResponse is the A2A session-open reply.
type HandshakeResponse struct {
	SessionID          string    `json:"session_id"`
	ServerCapabilities []string  `json:"server_capabilities"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// CreateA2A opens an A2A session from a handshake.
func (s *Service) CreateA2A(hs Handshake) (*HandshakeResponse, error) {
	if hs.AgentID == "" {
		return nil, fault.Validation("handshake needs an agent_id")
	}
	if hs.ProtocolVersion != "" && hs.ProtocolVersion != a2aProtocolVersion {
		return nil, fault.Validation("unsupported protocol version %q", hs.ProtocolVersion)
	}

	sess, err := s.create("", func(sess *Session) {
		sess.Kind = KindA2A
		sess.AgentID = hs.AgentID
		sess.AgentName = hs.AgentName
		sess.AgentCaps = append([]string(nil), hs.Capabilities...)
		sess.ServerCaps = negotiateCaps(hs.Capabilities)
	})
	if err != nil {
		return nil, err
	}
	return &HandshakeResponse{
		SessionID:          sess.ID,
		ServerCapabilities: sess.ServerCaps,
		ExpiresAt:          sess.ExpiresAt,
	}, nil
}

// AttachStream registers the live channel for a session. A session
// holds at most one stream.
func (s *Service) AttachStream(sessionID string, stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fault.NotFound("session %s", sessionID)
	}
	if !sess.Active {
		return fault.Conflict("session %s is closed", sessionID)
	}
	if _, attached := s.streams[sessionID]; attached {
		return fault.Conflict("session %s already has a stream", sessionID)
	}
	s.streams[sessionID] = stream
	return nil
}

// DetachStream unregisters the session's channel. Detaching an
// unattached session is a no-op.
func (s *Service) DetachStream(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fault.NotFound("session %s", sessionID)
	}
	delete(s.streams, sessionID)
	return nil
}

// Deliver parses a raw stream message and forwards it to the attached
// stream. Unknown kinds fail with VALIDATION; pings are answered with
// a pong instead of being forwarded.
func (s *Service) Deliver(sessionID string, raw []byte) error {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fault.Validation("malformed stream message: %v", err).WithCause(err)
	}
	if !knownFrameKinds[frame.Kind] {
		return fault.Validation("unknown frame kind %q", frame.Kind)
	}
	if err := s.Touch(sessionID); err != nil {
		return err
	}

	s.mu.RLock()
	stream, attached := s.streams[sessionID]
	s.mu.RUnlock()
	if !attached {
		return fault.Conflict("session %s has no attached stream", sessionID)
	}

	if frame.Kind == FramePing {
		return stream.Send(Frame{Kind: FramePong})
	}
	return stream.Send(frame)
}

// Plan estimates one negotiated task.
type Plan struct {
	ModelID           string        `json:"model_id"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	EstimatedCostUSD  float64       `json:"estimated_cost_usd"`
}

// Negotiator answers skill negotiation with routing-derived estimates.
type Negotiator struct {
	svc *Service
	gw  *gateway.Gateway
}

// NewNegotiator creates a negotiator over the session service and
// gateway.
func NewNegotiator(svc *Service, gw *gateway.Gateway) *Negotiator {
	return &Negotiator{svc: svc, gw: gw}
}

// Negotiate accepts iff every requested skill is among the session's
// agent capabilities. On acceptance the plan carries duration and cost
// estimates from the routing recommendation.
func (n *Negotiator) Negotiate(sessionID string, requestedSkills []string, task string) (bool, *Plan, error) {
	sess, err := n.svc.Get(sessionID)
	if err != nil {
		return false, nil, err
	}
	if sess.Kind != KindA2A {
		return false, nil, fault.Conflict("session %s is not an A2A session", sessionID)
	}

	have := make(map[string]bool, len(sess.AgentCaps))
	for _, c := range sess.AgentCaps {
		have[c] = true
	}
	for _, skill := range requestedSkills {
		if !have[skill] {
			return false, nil, nil
		}
	}

	promptTokens := tokens.Estimate(task)
	d, err := n.gw.RecommendModel(gateway.Requirements{
		Capabilities:    []model.Capability{model.CapTextGeneration},
		PromptTokens:    promptTokens,
		MaxOutputTokens: 1024,
	}, gateway.DefaultPolicy())
	if err != nil {
		return false, nil, err
	}

	return true, &Plan{
		ModelID:           d.ID,
		EstimatedDuration: time.Duration(d.MeanLatencyMS) * time.Millisecond,
		EstimatedCostUSD:  d.Cost(promptTokens, 1024),
	}, nil
}

// AgentCard describes this runtime to A2A peers.
func AgentCard(name, version, url string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:            name,
		Description:     "Quorum AI workforce runtime",
		URL:             url,
		Version:         version,
		ProtocolVersion: a2aProtocolVersion,
		Skills: []a2a.AgentSkill{
			{
				ID:          "heavy-analysis",
				Name:        "Heavy analysis",
				Description: "Multi-perspective fan-out analysis with synthesis",
				Tags:        []string{"analysis", "ensemble"},
			},
			{
				ID:          "workflow",
				Name:        "Workflow execution",
				Description: "Goal-driven task DAG execution over an agent team",
				Tags:        []string{"orchestration"},
			},
		},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain", "application/json"},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
	}
}
