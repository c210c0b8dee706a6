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

// Package consent decides whether a subject may act on a resource,
// from explicit grants plus an auto-approval policy.
package consent

import (
	"fmt"
	"sync"
	"time"

	"github.com/quorumhq/quorum/pkg/fault"
)

// Decision is the outcome of a consent check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Grant permits a subject a set of permissions on a resource.
// ResourceName "*" covers every resource of the type.
type Grant struct {
	Subject      string    `json:"subject"`
	ResourceType string    `json:"resource_type"`
	ResourceName string    `json:"resource_name"`
	Permissions  []string  `json:"permissions"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

func (g Grant) expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

func (g Grant) covers(resourceType, resourceName, perm string) bool {
	if g.ResourceType != resourceType {
		return false
	}
	if g.ResourceName != "*" && g.ResourceName != resourceName {
		return false
	}
	for _, p := range g.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// Policy configures permissions approved without an explicit grant,
// per resource type.
type Policy struct {
	AutoApprove map[string][]string
}

// Service answers consent checks.
type Service struct {
	mu     sync.RWMutex
	grants []Grant
	policy Policy
	now    func() time.Time
}

// NewService creates a consent service with the given auto-approval
// policy.
func NewService(policy Policy) *Service {
	return &Service{policy: policy, now: time.Now}
}

// Grant records an active grant.
func (s *Service) Grant(g Grant) error {
	if g.Subject == "" || g.ResourceType == "" || g.ResourceName == "" {
		return fault.Validation("grant needs a subject, resource type, and resource name")
	}
	if len(g.Permissions) == 0 {
		return fault.Validation("grant needs at least one permission")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, g)
	return nil
}

// Revoke removes every grant the subject holds on the resource.
func (s *Service) Revoke(subject, resourceType, resourceName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.grants[:0]
	removed := 0
	for _, g := range s.grants {
		if g.Subject == subject && g.ResourceType == resourceType && g.ResourceName == resourceName {
			removed++
			continue
		}
		kept = append(kept, g)
	}
	s.grants = kept
	return removed
}

// Check decides whether the subject holds every requested permission
// on the resource. All permissions must be covered, each either by the
// auto-approval policy or an unexpired grant.
func (s *Service) Check(subject, resourceType, resourceName string, perms []string) Decision {
	if len(perms) == 0 {
		return Decision{Allowed: false, Reason: "no permissions requested"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()

	for _, perm := range perms {
		if s.autoApproved(resourceType, perm) {
			continue
		}
		if !s.grantedLocked(subject, resourceType, resourceName, perm, now) {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("no active grant for %s on %s/%s", perm, resourceType, resourceName),
			}
		}
	}
	return Decision{Allowed: true, Reason: "granted"}
}

func (s *Service) autoApproved(resourceType, perm string) bool {
	for _, p := range s.policy.AutoApprove[resourceType] {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

func (s *Service) grantedLocked(subject, resourceType, resourceName, perm string, now time.Time) bool {
	for _, g := range s.grants {
		if g.Subject != subject || g.expired(now) {
			continue
		}
		if g.covers(resourceType, resourceName, perm) {
			return true
		}
	}
	return false
}
