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

// Package taskexec runs long-lived tasks on a background worker pool
// with monotone progress reporting and cooperative, idempotent
// cancellation.
package taskexec

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/observability"
)

// State is the task lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Task is one execution record.
type Task struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id,omitempty"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Params      map[string]any `json:"params,omitempty"`
	Cancellable bool           `json:"cancellable"`
	State       State          `json:"state"`
	Progress    float64        `json:"progress"`
	Stage       string         `json:"stage,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
	Transitions []Transition   `json:"transitions"`
}

// Executor runs a task's work. It must honor ctx cancellation and may
// call report to publish progress.
type Executor func(ctx context.Context, task Task, report ProgressFunc) (any, error)

// ProgressFunc publishes a progress fraction and stage label.
type ProgressFunc func(fraction float64, stage string) error

type workItem struct {
	taskID   string
	executor Executor
}

// Service owns the task registry and the worker pool.
type Service struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc

	queue   chan workItem
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewService starts a service with the given number of pool workers.
func NewService(workers int) *Service {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		tasks:   make(map[string]*Task),
		cancels: make(map[string]context.CancelFunc),
		queue:   make(chan workItem, workers*4),
		baseCtx: ctx,
		stop:    cancel,
		now:     time.Now,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Shutdown cancels all running tasks and stops the pool.
func (s *Service) Shutdown() {
	s.stop()
	close(s.queue)
	s.wg.Wait()
}

// TaskOption adjusts a task record at creation time.
type TaskOption func(*Task)

// NotCancellable marks a task that must run to a terminal state on its
// own; Cancel requests against it are refused.
func NotCancellable() TaskOption {
	return func(t *Task) { t.Cancellable = false }
}

// CreateTask registers a task and queues it for execution. Tasks are
// cancellable unless an option says otherwise.
func (s *Service) CreateTask(sessionID, taskType, name string, params map[string]any, exec Executor, opts ...TaskOption) (string, error) {
	if taskType == "" || name == "" {
		return "", fault.Validation("task needs a type and a name")
	}
	if exec == nil {
		return "", fault.Validation("task needs an executor")
	}

	t := &Task{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Type:        taskType,
		Name:        name,
		Params:      params,
		Cancellable: true,
		State:       StatePending,
		CreatedAt:   s.now(),
	}
	for _, opt := range opts {
		opt(t)
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	select {
	case s.queue <- workItem{taskID: t.ID, executor: exec}:
		return t.ID, nil
	default:
		s.mu.Lock()
		delete(s.tasks, t.ID)
		s.mu.Unlock()
		return "", fault.Capacity("pool_exhausted", "task queue is full")
	}
}

// Get returns a snapshot of the task.
func (s *Service) Get(taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, fault.NotFound("task %s", taskID)
	}
	return snapshot(t), nil
}

// UpdateProgress publishes a progress fraction for a running task.
// Fractions must lie in [0,1] and be non-decreasing.
func (s *Service) UpdateProgress(taskID string, fraction float64, stage string) error {
	if fraction < 0 || fraction > 1 {
		return fault.Validation("progress fraction %v outside [0,1]", fraction)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fault.NotFound("task %s", taskID)
	}
	if t.State != StateRunning {
		return fault.Conflict("task %s is %s, not running", taskID, t.State)
	}
	if fraction < t.Progress {
		return fault.Validation("progress may not decrease: %v < %v", fraction, t.Progress)
	}
	t.Progress = fraction
	t.Stage = stage
	return nil
}

// Complete marks a running task completed with its result.
func (s *Service) Complete(taskID string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fault.NotFound("task %s", taskID)
	}
	if t.State.IsTerminal() {
		return fault.Conflict("task %s already %s", taskID, t.State)
	}
	s.transitionLocked(t, StateCompleted, "")
	t.Result = result
	t.Progress = 1
	t.CompletedAt = s.now()
	return nil
}

// Fail marks a running task failed. A cancelled task never becomes
// failed: late executor errors after cancellation are dropped.
func (s *Service) Fail(taskID string, taskErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fault.NotFound("task %s", taskID)
	}
	if t.State == StateCancelled {
		return nil
	}
	if t.State.IsTerminal() {
		return fault.Conflict("task %s already %s", taskID, t.State)
	}
	s.transitionLocked(t, StateFailed, "")
	if taskErr != nil {
		t.Error = taskErr.Error()
	}
	t.CompletedAt = s.now()
	return nil
}

// Cancel requests cancellation. Pending and running tasks move to
// cancelled and their executor context is cancelled; repeat calls and
// calls on already-cancelled tasks are no-ops with no extra
// transition. Cancelling a completed or failed task is a conflict, as
// is cancelling a task created NotCancellable.
func (s *Service) Cancel(taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fault.NotFound("task %s", taskID)
	}
	if !t.Cancellable && t.State != StateCancelled {
		return fault.Conflict("task %s is not cancellable", taskID)
	}
	switch t.State {
	case StateCancelled:
		return nil
	case StateCompleted, StateFailed:
		return fault.Conflict("task %s already %s", taskID, t.State)
	}

	s.transitionLocked(t, StateCancelled, reason)
	t.CompletedAt = s.now()
	if cancel, running := s.cancels[taskID]; running {
		cancel()
	}
	return nil
}

// List returns snapshots of every task for a session; empty session
// means all tasks.
func (s *Service) List(sessionID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if sessionID == "" || t.SessionID == sessionID {
			out = append(out, snapshot(t))
		}
	}
	return out
}

func (s *Service) worker() {
	defer s.wg.Done()
	for item := range s.queue {
		s.run(item)
	}
}

func (s *Service) run(item workItem) {
	s.mu.Lock()
	t, ok := s.tasks[item.taskID]
	if !ok || t.State != StatePending {
		// Cancelled before a worker picked it up.
		s.mu.Unlock()
		return
	}
	s.transitionLocked(t, StateRunning, "")
	t.StartedAt = s.now()

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[item.taskID] = cancel
	snap := snapshot(t)
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, item.taskID)
		s.mu.Unlock()
	}()

	ctx, span := observability.Tracer("quorum.taskexec").Start(ctx,
		observability.SpanTaskExecution,
		trace.WithAttributes(
			attribute.String("task.id", snap.ID),
			attribute.String("task.type", snap.Type),
		),
	)
	defer span.End()

	report := func(fraction float64, stage string) error {
		return s.UpdateProgress(item.taskID, fraction, stage)
	}

	result, err := item.executor(ctx, snap, report)
	switch {
	case err == nil:
		if cerr := s.Complete(item.taskID, result); cerr != nil {
			slog.Debug("task completion dropped", "task", item.taskID, "error", cerr)
		}
	default:
		if ferr := s.Fail(item.taskID, err); ferr != nil {
			slog.Debug("task failure dropped", "task", item.taskID, "error", ferr)
		}
	}
}

// transitionLocked applies one state change and records it.
func (s *Service) transitionLocked(t *Task, to State, note string) {
	t.Transitions = append(t.Transitions, Transition{
		From: t.State,
		To:   to,
		At:   s.now(),
		Note: note,
	})
	t.State = to
}

func snapshot(t *Task) Task {
	cp := *t
	cp.Transitions = append([]Transition(nil), t.Transitions...)
	if t.Params != nil {
		cp.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			cp.Params[k] = v
		}
	}
	return cp
}
