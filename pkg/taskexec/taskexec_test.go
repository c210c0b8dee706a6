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

package taskexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/pkg/fault"
)

func waitForState(t *testing.T, svc *Service, taskID string, want State) Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := svc.Get(taskID)
		require.NoError(t, err)
		if task.State == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := svc.Get(taskID)
	t.Fatalf("task %s never reached %s (stuck at %s)", taskID, want, task.State)
	return Task{}
}

func TestTaskRunsToCompletion(t *testing.T) {
	svc := NewService(2)
	defer svc.Shutdown()

	id, err := svc.CreateTask("sess-1", "analysis", "demo", map[string]any{"n": 3},
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			_ = report(0.5, "halfway")
			return "done", nil
		})
	require.NoError(t, err)

	task := waitForState(t, svc, id, StateCompleted)
	assert.Equal(t, "done", task.Result)
	assert.Equal(t, 1.0, task.Progress)
	assert.False(t, task.CompletedAt.IsZero())
	assert.Equal(t, "sess-1", task.SessionID)
	assert.True(t, task.Cancellable)

	// pending -> running -> completed.
	require.Len(t, task.Transitions, 2)
	assert.Equal(t, StateRunning, task.Transitions[0].To)
	assert.Equal(t, StateCompleted, task.Transitions[1].To)
}

func TestTaskFailure(t *testing.T) {
	svc := NewService(1)
	defer svc.Shutdown()

	id, err := svc.CreateTask("", "analysis", "doomed", nil,
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			return nil, errors.New("executor blew up")
		})
	require.NoError(t, err)

	task := waitForState(t, svc, id, StateFailed)
	assert.Equal(t, "executor blew up", task.Error)
}

func TestProgressMonotonicity(t *testing.T) {
	svc := NewService(1)
	defer svc.Shutdown()

	progressed := make(chan struct{})
	release := make(chan struct{})
	id, err := svc.CreateTask("", "analysis", "slow", nil,
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			_ = report(0.2, "a")
			_ = report(0.2, "b")
			_ = report(0.7, "c")
			close(progressed)
			<-release
			return "ok", nil
		})
	require.NoError(t, err)
	<-progressed

	// Regression and out-of-range fractions are rejected.
	err = svc.UpdateProgress(id, 0.5, "late")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
	err = svc.UpdateProgress(id, 1.5, "x")
	require.Error(t, err)

	task, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0.7, task.Progress)
	assert.Equal(t, "c", task.Stage)

	close(release)
	waitForState(t, svc, id, StateCompleted)

	// Progress after completion conflicts.
	err = svc.UpdateProgress(id, 0.9, "x")
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestCancelIsIdempotentAndNeverBecomesFailed(t *testing.T) {
	svc := NewService(1)
	defer svc.Shutdown()

	started := make(chan struct{})
	id, err := svc.CreateTask("", "analysis", "cancellable", nil,
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	require.NoError(t, err)
	<-started

	require.NoError(t, svc.Cancel(id, "operator request"))
	require.NoError(t, svc.Cancel(id, "again"))

	task := waitForState(t, svc, id, StateCancelled)

	// Executor returned an error after cancellation; the state must
	// stay cancelled with exactly one cancel transition.
	time.Sleep(20 * time.Millisecond)
	task, err = svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, task.State)
	assert.Empty(t, task.Error)

	cancels := 0
	for _, tr := range task.Transitions {
		if tr.To == StateCancelled {
			cancels++
			assert.Equal(t, "operator request", tr.Note)
		}
	}
	assert.Equal(t, 1, cancels)
}

func TestCancelPendingTaskNeverRuns(t *testing.T) {
	svc := NewService(1)
	defer svc.Shutdown()

	block := make(chan struct{})
	_, err := svc.CreateTask("", "analysis", "blocker", nil,
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			<-block
			return "ok", nil
		})
	require.NoError(t, err)

	ran := false
	id, err := svc.CreateTask("", "analysis", "queued", nil,
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			ran = true
			return "ok", nil
		})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(id, "not needed"))
	close(block)

	waitForState(t, svc, id, StateCancelled)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran)
}

func TestCancelTerminalTaskConflicts(t *testing.T) {
	svc := NewService(1)
	defer svc.Shutdown()

	id, err := svc.CreateTask("", "analysis", "quick", nil,
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			return "ok", nil
		})
	require.NoError(t, err)
	waitForState(t, svc, id, StateCompleted)

	err = svc.Cancel(id, "too late")
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestNonCancellableTaskRefusesCancel(t *testing.T) {
	svc := NewService(1)
	defer svc.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	id, err := svc.CreateTask("", "analysis", "pinned", nil,
		func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
			close(started)
			select {
			case <-release:
				return "ok", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}, NotCancellable())
	require.NoError(t, err)
	<-started

	task, err := svc.Get(id)
	require.NoError(t, err)
	assert.False(t, task.Cancellable)

	err = svc.Cancel(id, "operator request")
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))

	// The refused cancel left the executor running.
	close(release)
	waitForState(t, svc, id, StateCompleted)
}

func TestCreateTaskValidation(t *testing.T) {
	svc := NewService(1)
	defer svc.Shutdown()

	_, err := svc.CreateTask("", "", "x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = svc.CreateTask("", "analysis", "x", nil, nil)
	require.Error(t, err)

	_, err = svc.Get("missing")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestListFiltersBySession(t *testing.T) {
	svc := NewService(2)
	defer svc.Shutdown()

	exec := func(ctx context.Context, task Task, report ProgressFunc) (any, error) {
		return "ok", nil
	}
	a, err := svc.CreateTask("sess-a", "analysis", "one", nil, exec)
	require.NoError(t, err)
	_, err = svc.CreateTask("sess-b", "analysis", "two", nil, exec)
	require.NoError(t, err)

	waitForState(t, svc, a, StateCompleted)

	assert.Len(t, svc.List(""), 2)
	got := svc.List("sess-a")
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Name)
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	task := Task{
		ID:        "task-1",
		SessionID: "session-1",
		Type:      "analysis",
		Name:      "compare options",
		State:     StateRunning,
		Progress:  0.5,
		CreatedAt: created,
	}
	require.NoError(t, store.Save(ctx, task))

	// Second save updates in place.
	task.State = StateCompleted
	task.Progress = 1
	require.NoError(t, store.Save(ctx, task))

	got, err := store.Load(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, "session-1", got.SessionID)

	list, err := store.LoadSession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	n, err := store.PruneTerminal(ctx, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Load(ctx, "task-1")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}
