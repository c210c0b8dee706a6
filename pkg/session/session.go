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

// Package session manages MCP and A2A protocol sessions: capability
// negotiation on create, activity tracking, idle expiry via a janitor,
// and kind-tagged streaming for A2A peers.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quorumhq/quorum/pkg/fault"
)

// Kind distinguishes the protocol a session speaks.
type Kind string

const (
	KindMCP Kind = "mcp"
	KindA2A Kind = "a2a"
)

// serverFeatures is the statically declared MCP feature set offered
// for negotiation.
var serverFeatures = []string{"tools", "resources", "prompts", "logging"}

// mandatoryFeatures are always granted regardless of what the client
// declares.
var mandatoryFeatures = []string{"ping"}

// Session is one negotiated protocol session.
type Session struct {
	ID           string             `json:"id"`
	Kind         Kind               `json:"kind"`
	ClientInfo   mcp.Implementation `json:"client_info"`
	ClientCaps   []string           `json:"client_caps"`
	ServerCaps   []string           `json:"server_caps"`
	AgentID      string             `json:"agent_id,omitempty"`
	AgentName    string             `json:"agent_name,omitempty"`
	AgentCaps    []string           `json:"agent_caps,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
	ExpiresAt    time.Time          `json:"expires_at"`
	Active       bool               `json:"active"`
}

// Options configures a service.
type Options struct {
	// IdleTimeout closes sessions with no activity for this long.
	IdleTimeout time.Duration

	// MaxSessions caps concurrently active sessions; 0 means no cap.
	MaxSessions int
}

// Service manages session lifecycle in memory. Persistence goes
// through SQLStore by copy-in/copy-out.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	streams  map[string]Stream
	opts     Options
	now      func() time.Time
}

// NewService creates an in-memory session service.
func NewService(opts Options) *Service {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	return &Service{
		sessions: make(map[string]*Session),
		streams:  make(map[string]Stream),
		opts:     opts,
		now:      time.Now,
	}
}

// CreateMCP opens an MCP session. Server capabilities are the
// intersection of the client's declared capabilities with the server
// feature set, plus the mandatory features. An empty sessionID gets a
// generated UUID.
func (s *Service) CreateMCP(sessionID string, clientInfo mcp.Implementation, clientCaps []string) (*Session, error) {
	return s.create(sessionID, func(sess *Session) {
		sess.Kind = KindMCP
		sess.ClientInfo = clientInfo
		sess.ClientCaps = append([]string(nil), clientCaps...)
		sess.ServerCaps = negotiateCaps(clientCaps)
	})
}

func (s *Service) create(sessionID string, fill func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxSessions > 0 && s.activeLocked() >= s.opts.MaxSessions {
		return nil, fault.Capacity("session_limit", "session limit of %d reached", s.opts.MaxSessions)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if _, exists := s.sessions[sessionID]; exists {
		return nil, fault.Conflict("session %s already exists", sessionID)
	}

	now := s.now()
	sess := &Session{
		ID:           sessionID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.opts.IdleTimeout),
		Active:       true,
	}
	fill(sess)
	s.sessions[sess.ID] = sess

	cp := *sess
	return &cp, nil
}

// Get returns a snapshot of the session.
func (s *Service) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fault.NotFound("session %s", sessionID)
	}
	cp := *sess
	return &cp, nil
}

// Touch refreshes the session's last-activity time.
func (s *Service) Touch(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fault.NotFound("session %s", sessionID)
	}
	if !sess.Active {
		return fault.Conflict("session %s is closed", sessionID)
	}
	sess.LastActivity = s.now()
	sess.ExpiresAt = sess.LastActivity.Add(s.opts.IdleTimeout)
	return nil
}

// Close marks the session inactive and drops any attached stream.
// Closing twice is a no-op.
func (s *Service) Close(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fault.NotFound("session %s", sessionID)
	}
	sess.Active = false
	delete(s.streams, sessionID)
	return nil
}

// Active returns the number of active sessions.
func (s *Service) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

func (s *Service) activeLocked() int {
	n := 0
	for _, sess := range s.sessions {
		if sess.Active {
			n++
		}
	}
	return n
}

// ExpireIdle closes sessions whose last activity is older than the
// idle timeout and returns how many it closed.
func (s *Service) ExpireIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.opts.IdleTimeout)
	closed := 0
	for id, sess := range s.sessions {
		if sess.Active && sess.LastActivity.Before(cutoff) {
			sess.Active = false
			delete(s.streams, id)
			closed++
		}
	}
	return closed
}

// Janitor expires idle sessions on the interval until ctx is done.
func (s *Service) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ExpireIdle(); n > 0 {
				slog.Debug("expired idle sessions", "count", n)
			}
		}
	}
}

// ProtocolVersion is the MCP protocol revision spoken on initialize.
func ProtocolVersion() string {
	return mcp.LATEST_PROTOCOL_VERSION
}

// negotiateCaps intersects the client capabilities with the server
// feature set and adds the mandatory features. The result is sorted.
func negotiateCaps(clientCaps []string) []string {
	offered := make(map[string]bool, len(serverFeatures))
	for _, f := range serverFeatures {
		offered[f] = true
	}

	caps := make(map[string]bool)
	for _, c := range clientCaps {
		if offered[c] {
			caps[c] = true
		}
	}
	for _, f := range mandatoryFeatures {
		caps[f] = true
	}

	out := make([]string, 0, len(caps))
	for c := range caps {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
