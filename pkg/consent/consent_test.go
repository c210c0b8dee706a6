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

package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRequiresActiveGrant(t *testing.T) {
	svc := NewService(Policy{})

	d := svc.Check("agent-1", "tool", "calculate", []string{"execute"})
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "no active grant")

	require.NoError(t, svc.Grant(Grant{
		Subject:      "agent-1",
		ResourceType: "tool",
		ResourceName: "calculate",
		Permissions:  []string{"execute"},
	}))

	d = svc.Check("agent-1", "tool", "calculate", []string{"execute"})
	assert.True(t, d.Allowed)

	// Different subject, same resource: denied.
	d = svc.Check("agent-2", "tool", "calculate", []string{"execute"})
	assert.False(t, d.Allowed)
}

func TestCheckAllPermissionsMustBeCovered(t *testing.T) {
	svc := NewService(Policy{})
	require.NoError(t, svc.Grant(Grant{
		Subject: "agent-1", ResourceType: "graph", ResourceName: "session-1",
		Permissions: []string{"read"},
	}))

	assert.True(t, svc.Check("agent-1", "graph", "session-1", []string{"read"}).Allowed)
	assert.False(t, svc.Check("agent-1", "graph", "session-1", []string{"read", "write"}).Allowed)
	assert.False(t, svc.Check("agent-1", "graph", "session-1", nil).Allowed)
}

func TestWildcardsAndAutoApproval(t *testing.T) {
	svc := NewService(Policy{
		AutoApprove: map[string][]string{"tool": {"describe"}},
	})

	// Auto-approved without any grant.
	assert.True(t, svc.Check("anyone", "tool", "calculate", []string{"describe"}).Allowed)

	require.NoError(t, svc.Grant(Grant{
		Subject: "agent-1", ResourceType: "tool", ResourceName: "*",
		Permissions: []string{"*"},
	}))
	assert.True(t, svc.Check("agent-1", "tool", "anything", []string{"execute", "describe"}).Allowed)
}

func TestExpiredGrantIsInactive(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(Policy{})
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Grant(Grant{
		Subject: "agent-1", ResourceType: "tool", ResourceName: "calculate",
		Permissions: []string{"execute"},
		ExpiresAt:   now.Add(time.Hour),
	}))

	assert.True(t, svc.Check("agent-1", "tool", "calculate", []string{"execute"}).Allowed)
	now = now.Add(2 * time.Hour)
	assert.False(t, svc.Check("agent-1", "tool", "calculate", []string{"execute"}).Allowed)
}

func TestRevoke(t *testing.T) {
	svc := NewService(Policy{})
	require.NoError(t, svc.Grant(Grant{
		Subject: "agent-1", ResourceType: "tool", ResourceName: "calculate",
		Permissions: []string{"execute"},
	}))

	assert.Equal(t, 1, svc.Revoke("agent-1", "tool", "calculate"))
	assert.Equal(t, 0, svc.Revoke("agent-1", "tool", "calculate"))
	assert.False(t, svc.Check("agent-1", "tool", "calculate", []string{"execute"}).Allowed)
}

func TestGrantValidation(t *testing.T) {
	svc := NewService(Policy{})
	require.Error(t, svc.Grant(Grant{}))
	require.Error(t, svc.Grant(Grant{
		Subject: "a", ResourceType: "tool", ResourceName: "x",
	}))
}
