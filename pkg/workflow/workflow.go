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

// Package workflow executes task DAGs over a team of agents: it
// validates the graph, schedules ready tasks, resolves upstream
// outputs into task inputs, retries retriable failures with backoff,
// and enforces cost and duration budgets.
package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/quorum/pkg/fault"
)

// TaskState is the per-task scheduling state.
type TaskState string

const (
	TaskPending        TaskState = "pending"
	TaskReady          TaskState = "ready"
	TaskRunning        TaskState = "running"
	TaskCompleted      TaskState = "completed"
	TaskFailed         TaskState = "failed"
	TaskRetryScheduled TaskState = "retry_scheduled"
	TaskSkipped        TaskState = "skipped"
)

// OnFailure selects what happens to downstream work when a task fails
// terminally.
type OnFailure string

const (
	// FailFast skips every transitive dependent of a failed task.
	FailFast OnFailure = "fail_fast"

	// Continue keeps independent branches running; only tasks that
	// depend on the failure are skipped.
	Continue OnFailure = "continue"
)

// Task is one node of the workflow DAG. Input may reference upstream
// outputs as ${task_id}; references must point at declared
// dependencies.
type Task struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Role        string   `json:"role" yaml:"role"`
	Input       string   `json:"input" yaml:"input"`
	DependsOn   []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Timeout bounds one attempt; zero falls back to the policy's
	// TaskTimeout. Expiry is a retriable TIMEOUT fault, distinct from
	// the whole-workflow MaxDuration.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Policy bounds one workflow execution.
type Policy struct {
	MaxParallel int           `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	MaxCostUSD  float64       `json:"max_cost_usd,omitempty" yaml:"max_cost_usd,omitempty"`
	MaxDuration time.Duration `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
	OnFailure   OnFailure     `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`

	// TaskTimeout is the per-attempt deadline for tasks that do not set
	// their own; zero means defaultTaskTimeout.
	TaskTimeout time.Duration `json:"task_timeout,omitempty" yaml:"task_timeout,omitempty"`

	// RetryBase is the backoff base; attempt n waits
	// base * 2^(n-1) with ±20% jitter, capped at 30s.
	RetryBase time.Duration `json:"retry_base,omitempty" yaml:"retry_base,omitempty"`
}

// Workflow is a validated task DAG plus its execution policy.
type Workflow struct {
	ID     string `json:"id" yaml:"id"`
	Goal   string `json:"goal" yaml:"goal"`
	Tasks  []Task `json:"tasks" yaml:"tasks"`
	Policy Policy `json:"policy" yaml:"policy"`
}

// TaskResult is one task's final outcome.
type TaskResult struct {
	TaskID      string    `json:"task_id"`
	Name        string    `json:"name"`
	State       TaskState `json:"state"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	CompletedAt time.Time `json:"completed_at"`
}

// Result is the workflow output contract. Results are ordered by task
// completion time.
type Result struct {
	ExecutionID    string        `json:"execution_id"`
	WorkflowID     string        `json:"workflow_id"`
	Status         string        `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	CompletedTasks []string      `json:"completed_tasks"`
	FailedTasks    []string      `json:"failed_tasks"`
	Results        []TaskResult  `json:"results"`
	TotalTokens    int           `json:"total_tokens"`
	TotalCostUSD   float64       `json:"total_cost_usd"`
	ExecutionTime  time.Duration `json:"execution_time"`
}

// NewWorkflow builds and validates a workflow.
func NewWorkflow(goal string, tasks []Task, policy Policy) (*Workflow, error) {
	wf := &Workflow{
		ID:     uuid.NewString(),
		Goal:   goal,
		Tasks:  tasks,
		Policy: policy,
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// Validate checks ids, dependency references, input references, and
// acyclicity.
func (w *Workflow) Validate() error {
	if len(w.Tasks) == 0 {
		return fault.Validation("workflow needs at least one task")
	}

	byID := make(map[string]*Task, len(w.Tasks))
	for i := range w.Tasks {
		t := &w.Tasks[i]
		if t.ID == "" {
			return fault.Validation("task %q has no id", t.Name)
		}
		if t.Role == "" {
			return fault.Validation("task %s has no role", t.ID)
		}
		if _, dup := byID[t.ID]; dup {
			return fault.Validation("duplicate task id %s", t.ID)
		}
		byID[t.ID] = t
	}

	for i := range w.Tasks {
		t := &w.Tasks[i]
		deps := make(map[string]bool, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return fault.Validation("task %s depends on itself", t.ID)
			}
			if _, ok := byID[dep]; !ok {
				return fault.Validation("task %s depends on unknown task %s", t.ID, dep)
			}
			deps[dep] = true
		}
		for _, ref := range inputRefs(t.Input) {
			if !deps[ref] {
				return fault.Validation(
					"task %s references ${%s} which is not a declared dependency", t.ID, ref)
			}
		}
	}

	return w.checkAcyclic(byID)
}

// checkAcyclic runs Kahn's algorithm; leftover tasks mean a cycle.
func (w *Workflow) checkAcyclic(byID map[string]*Task) error {
	indegree := make(map[string]int, len(w.Tasks))
	dependents := make(map[string][]string)
	for i := range w.Tasks {
		t := &w.Tasks[i]
		indegree[t.ID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(w.Tasks) {
		return fault.Validation("workflow contains a dependency cycle")
	}
	return nil
}

// MaxParallelFor resolves the effective parallelism: the policy value,
// else min(teamSize, 4).
func (p Policy) MaxParallelFor(teamSize int) int {
	if p.MaxParallel > 0 {
		return p.MaxParallel
	}
	n := teamSize
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

const defaultTaskTimeout = 300 * time.Second

func (p Policy) taskTimeout() time.Duration {
	if p.TaskTimeout > 0 {
		return p.TaskTimeout
	}
	return defaultTaskTimeout
}

func (p Policy) retryBase() time.Duration {
	if p.RetryBase > 0 {
		return p.RetryBase
	}
	return time.Second
}

func (p Policy) onFailure() OnFailure {
	if p.OnFailure == Continue {
		return Continue
	}
	return FailFast
}

// Roles returns the distinct roles the workflow needs, sorted.
func (w *Workflow) Roles() []string {
	seen := make(map[string]bool)
	for _, t := range w.Tasks {
		seen[t.Role] = true
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (w *Workflow) task(id string) *Task {
	for i := range w.Tasks {
		if w.Tasks[i].ID == id {
			return &w.Tasks[i]
		}
	}
	return nil
}

func (w *Workflow) String() string {
	return fmt.Sprintf("workflow %s (%d tasks)", w.ID, len(w.Tasks))
}
