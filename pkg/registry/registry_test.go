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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/fault"
)

type testItem struct {
	ID string
}

func TestRegisterRejectsEmptyAndDuplicateNames(t *testing.T) {
	reg := NewBaseRegistry[testItem]()

	require.NoError(t, reg.Register("a", testItem{ID: "a"}))

	err := reg.Register("", testItem{})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	err = reg.Register("a", testItem{ID: "other"})
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))

	assert.Equal(t, 1, reg.Count())
}

func TestGetAndNames(t *testing.T) {
	reg := NewBaseRegistry[testItem]()
	require.NoError(t, reg.Register("b", testItem{ID: "b"}))
	require.NoError(t, reg.Register("a", testItem{ID: "a"}))

	item, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", item.ID)

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.Len(t, reg.List(), 2)
}

func TestRemove(t *testing.T) {
	reg := NewBaseRegistry[testItem]()
	require.NoError(t, reg.Register("a", testItem{ID: "a"}))

	require.NoError(t, reg.Remove("a"))

	err := reg.Remove("a")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
	assert.Equal(t, 0, reg.Count())
}
