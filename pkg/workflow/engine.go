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

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/quorum/pkg/agent"
	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/observability"
	"github.com/quorumhq/quorum/pkg/prompt"
	"github.com/quorumhq/quorum/pkg/tokens"
)

// maxRetryDelay caps the jittered backoff.
const maxRetryDelay = 30 * time.Second

var refRe = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\}`)

func inputRefs(input string) []string {
	var out []string
	for _, m := range refRe.FindAllStringSubmatch(input, -1) {
		out = append(out, m[1])
	}
	return out
}

// Engine executes workflows over a shared gateway and template store.
type Engine struct {
	gw        *gateway.Gateway
	templates *prompt.Store

	// newAgent is swappable in tests.
	newAgent func(cfg agent.Config) (*agent.Agent, error)

	rng *rand.Rand
	mu  sync.Mutex
}

// NewEngine creates a workflow engine.
func NewEngine(gw *gateway.Gateway, templates *prompt.Store) *Engine {
	e := &Engine{
		gw:        gw,
		templates: templates,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.newAgent = func(cfg agent.Config) (*agent.Agent, error) {
		return agent.New(cfg, e.gw, e.templates)
	}
	return e
}

type taskState struct {
	task     *Task
	state    TaskState
	attempts int
	output   string
	lastErr  error
	doneAt   time.Time
}

type completion struct {
	id  string
	out *agent.Result
	err error
}

// Execute runs the workflow to completion or budget/context expiry.
func (e *Engine) Execute(ctx context.Context, wf *Workflow) (*Result, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	tracer := observability.Tracer("quorum.workflow")
	ctx, span := tracer.Start(ctx, observability.SpanWorkflowRun,
		trace.WithAttributes(attribute.String("workflow.id", wf.ID)),
	)
	defer span.End()

	if wf.Policy.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wf.Policy.MaxDuration)
		defer cancel()
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	run := &execution{
		engine:    e,
		wf:        wf,
		states:    make(map[string]*taskState, len(wf.Tasks)),
		done:      make(chan completion, len(wf.Tasks)),
		retries:   make(chan string, len(wf.Tasks)),
		startedAt: time.Now(),
		cancelRun: cancelRun,
		result: &Result{
			ExecutionID: uuid.NewString(),
			WorkflowID:  wf.ID,
		},
	}
	for i := range wf.Tasks {
		t := &wf.Tasks[i]
		run.states[t.ID] = &taskState{task: t, state: TaskPending}
	}

	run.loop(runCtx)

	run.finalize()
	span.SetAttributes(attribute.String("workflow.status", run.result.Status))
	return run.result, nil
}

type execution struct {
	engine    *Engine
	wf        *Workflow
	states    map[string]*taskState
	done      chan completion
	retries   chan string
	startedAt time.Time
	cancelRun context.CancelFunc
	result    *Result

	running        int
	retryPending   int
	budgetBlown    bool
	terminalReason string
	totalCost      float64
	totalTokens    int
	pendingTimers  sync.WaitGroup
}

// loop is the scheduler: promote ready tasks in id order, fill
// parallel slots, and react to completions and retry wakeups.
func (x *execution) loop(ctx context.Context) {
	maxParallel := x.wf.Policy.MaxParallelFor(len(x.wf.Roles()))

	for {
		x.promoteReady()
		x.launch(ctx, maxParallel)

		if x.running == 0 && x.retryPending == 0 {
			if x.allSettled() || x.budgetBlown {
				break
			}
			// Remaining tasks are unreachable (upstream failed).
			x.skipUnreachable()
			break
		}

		select {
		case c := <-x.done:
			x.running--
			x.handleCompletion(ctx, c)
		case id := <-x.retries:
			x.retryPending--
			if st := x.states[id]; st.state == TaskRetryScheduled {
				st.state = TaskReady
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				x.terminalReason = "timeout"
			} else if x.terminalReason == "" {
				x.terminalReason = "cancelled"
			}
			x.drainAfterCancel()
			return
		}
	}
}

// promoteReady moves pending tasks whose dependencies all completed.
func (x *execution) promoteReady() {
	for _, st := range x.states {
		if st.state != TaskPending {
			continue
		}
		ready := true
		for _, dep := range st.task.DependsOn {
			if x.states[dep].state != TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			st.state = TaskReady
		}
	}
}

// launch starts ready tasks in ascending id order while slots remain.
func (x *execution) launch(ctx context.Context, maxParallel int) {
	if x.budgetBlown {
		return
	}

	var ready []string
	for id, st := range x.states {
		if st.state == TaskReady {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for _, id := range ready {
		if x.running >= maxParallel {
			return
		}
		st := x.states[id]

		if reason, blown := x.checkBudget(st.task); blown {
			x.budgetBlown = true
			x.terminalReason = reason
			x.cancelRun()
			return
		}

		st.state = TaskRunning
		st.attempts++
		x.running++
		go x.runTask(ctx, st.task, st.attempts)
	}
}

// checkBudget estimates the next call against the cost and duration
// caps.
func (x *execution) checkBudget(t *Task) (string, bool) {
	p := x.wf.Policy

	if p.MaxCostUSD > 0 {
		est := x.estimateCost(t)
		if x.totalCost+est > p.MaxCostUSD {
			return "budget_exceeded", true
		}
	}
	if p.MaxDuration > 0 {
		estLatency := 2 * time.Second
		if time.Since(x.startedAt)+estLatency > p.MaxDuration {
			return "budget_exceeded", true
		}
	}
	return "", false
}

func (x *execution) estimateCost(t *Task) float64 {
	d, err := x.engine.gw.RecommendModel(gateway.Requirements{
		Capabilities:    []model.Capability{model.CapTextGeneration},
		PromptTokens:    tokens.Estimate(t.Input),
		MaxOutputTokens: 1024,
	}, gateway.DefaultPolicy())
	if err != nil {
		return 0
	}
	return d.Cost(tokens.Estimate(t.Input), 1024)
}

func (x *execution) runTask(ctx context.Context, t *Task, attempt int) {
	input := x.resolveInput(t)

	worker, err := x.engine.newAgent(agent.Config{
		Name: t.ID,
		Role: t.Role,
	})
	if err != nil {
		x.done <- completion{id: t.ID, err: err}
		return
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = x.wf.Policy.taskTimeout()
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := worker.Execute(tctx, input, map[string]any{
		"task":   input,
		"input":  input,
		"goal":   x.wf.Goal,
		"topic":  input,
		"output": input,
	})
	// A per-task deadline becomes a retriable TIMEOUT; a dying run
	// context stays a plain cancellation.
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fault.Timeout("task %s exceeded its %s deadline", t.ID, timeout).WithCause(err)
	}
	x.done <- completion{id: t.ID, out: res, err: err}
}

// resolveInput substitutes ${dep} references with upstream outputs.
// Validation guaranteed every reference is a completed dependency.
func (x *execution) resolveInput(t *Task) string {
	return refRe.ReplaceAllStringFunc(t.Input, func(m string) string {
		id := m[2 : len(m)-1]
		if st, ok := x.states[id]; ok {
			return st.output
		}
		return m
	})
}

func (x *execution) handleCompletion(ctx context.Context, c completion) {
	st := x.states[c.id]

	if c.err == nil {
		st.state = TaskCompleted
		st.output = c.out.Content
		st.doneAt = time.Now()
		x.totalCost += c.out.CostUSD
		x.totalTokens += c.out.InputTokens + c.out.OutputTokens
		x.result.Results = append(x.result.Results, TaskResult{
			TaskID:      c.id,
			Name:        st.task.Name,
			State:       TaskCompleted,
			Output:      st.output,
			Attempts:    st.attempts,
			CompletedAt: st.doneAt,
		})
		return
	}

	st.lastErr = c.err

	maxAttempts := st.task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if st.attempts < maxAttempts && fault.RetriableAfterAttempt(c.err, st.attempts) {
		st.state = TaskRetryScheduled
		delay := x.backoff(st.attempts)
		x.retryPending++
		slog.Debug("task retry scheduled",
			"task", c.id, "attempt", st.attempts, "delay", delay)
		x.pendingTimers.Add(1)
		time.AfterFunc(delay, func() {
			defer x.pendingTimers.Done()
			select {
			case x.retries <- c.id:
			case <-ctx.Done():
			}
		})
		return
	}

	st.state = TaskFailed
	st.doneAt = time.Now()
	x.result.Results = append(x.result.Results, TaskResult{
		TaskID:      c.id,
		Name:        st.task.Name,
		State:       TaskFailed,
		Error:       c.err.Error(),
		Attempts:    st.attempts,
		CompletedAt: st.doneAt,
	})

	if x.wf.Policy.onFailure() == FailFast {
		x.skipDependents(c.id)
	}
}

// backoff is base * 2^(attempt-1) with ±20% jitter, capped.
func (x *execution) backoff(attempt int) time.Duration {
	base := x.wf.Policy.retryBase()
	d := base << (attempt - 1)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	x.engine.mu.Lock()
	jitter := 0.8 + 0.4*x.engine.rng.Float64()
	x.engine.mu.Unlock()
	d = time.Duration(float64(d) * jitter)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// skipDependents marks every transitive dependent of id skipped.
func (x *execution) skipDependents(id string) {
	for _, st := range x.states {
		if st.state != TaskPending {
			continue
		}
		if x.dependsOn(st.task, id) {
			st.state = TaskSkipped
		}
	}
}

func (x *execution) dependsOn(t *Task, target string) bool {
	for _, dep := range t.DependsOn {
		if dep == target {
			return true
		}
		if x.dependsOn(x.states[dep].task, target) {
			return true
		}
	}
	return false
}

// skipUnreachable skips pending tasks with a failed or skipped
// upstream, to a fixpoint; used when the ready set drains under the
// continue policy.
func (x *execution) skipUnreachable() {
	for changed := true; changed; {
		changed = false
		for _, st := range x.states {
			if st.state != TaskPending {
				continue
			}
			for _, dep := range st.task.DependsOn {
				s := x.states[dep].state
				if s == TaskFailed || s == TaskSkipped {
					st.state = TaskSkipped
					changed = true
					break
				}
			}
		}
	}
}

func (x *execution) allSettled() bool {
	for _, st := range x.states {
		switch st.state {
		case TaskCompleted, TaskFailed, TaskSkipped:
		default:
			return false
		}
	}
	return true
}

// drainAfterCancel collects in-flight completions after the context
// expired so no goroutine blocks on the done channel.
func (x *execution) drainAfterCancel() {
	for x.running > 0 {
		c := <-x.done
		x.running--
		st := x.states[c.id]
		if c.err == nil {
			st.state = TaskCompleted
			st.output = c.out.Content
			x.totalCost += c.out.CostUSD
			x.totalTokens += c.out.InputTokens + c.out.OutputTokens
		} else {
			st.state = TaskFailed
			st.lastErr = c.err
		}
	}
	x.pendingTimers.Wait()
}

// finalize computes the output contract from the settled states.
func (x *execution) finalize() {
	res := x.result
	res.TotalCostUSD = x.totalCost
	res.TotalTokens = x.totalTokens
	res.ExecutionTime = time.Since(x.startedAt)

	failed := 0
	for _, t := range x.wf.Tasks {
		st := x.states[t.ID]
		switch st.state {
		case TaskCompleted:
			res.CompletedTasks = append(res.CompletedTasks, t.ID)
		case TaskFailed:
			res.FailedTasks = append(res.FailedTasks, t.ID)
			failed++
		case TaskSkipped:
		default:
			// Interrupted mid-flight.
			failed++
			res.FailedTasks = append(res.FailedTasks, t.ID)
		}
	}

	// Results arrive in completion order already; keep it stable.
	sort.SliceStable(res.Results, func(i, j int) bool {
		return res.Results[i].CompletedAt.Before(res.Results[j].CompletedAt)
	})

	switch {
	case x.budgetBlown || x.terminalReason != "":
		res.Status = "failed"
		res.Reason = x.terminalReason
	case failed > 0:
		res.Status = "failed"
	case len(res.CompletedTasks) == len(x.wf.Tasks):
		res.Status = "completed"
	default:
		res.Status = "completed_with_skips"
	}
}

// Output returns the named task's output from a result.
func (r *Result) Output(taskID string) (string, bool) {
	for _, tr := range r.Results {
		if tr.TaskID == taskID && tr.State == TaskCompleted {
			return tr.Output, true
		}
	}
	return "", false
}
