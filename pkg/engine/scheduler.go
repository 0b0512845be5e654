package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTaskCancelled is returned by a task that was stepped after being cancelled.
var ErrTaskCancelled = errors.New("task cancelled")

// Task is a suspendable unit of work. Each call to Step performs one slice of
// the work and reports whether the task has finished; returning false is the
// task's suspension point. Cancel terminates the task early and must still
// run the task's cleanup.
type Task interface {
	// Step advances the task and returns true once it has finished.
	Step(ctx context.Context) (bool, error)

	// Cancel terminates an unfinished task.
	Cancel()
}

// StepFunc is a single step of a task built with NewTask.
type StepFunc func(ctx context.Context) (bool, error)

// funcTask adapts a step function and an optional cleanup into a Task.
type funcTask struct {
	step      StepFunc
	cleanup   func()
	finished  bool
	cancelled bool
}

// NewTask creates a Task from a step function. cleanup, if not nil, runs
// exactly once when the task finishes, fails or is cancelled.
func NewTask(step StepFunc, cleanup func()) Task {
	return &funcTask{step: step, cleanup: cleanup}
}

// Step implements Task.
func (t *funcTask) Step(ctx context.Context) (bool, error) {
	if t.cancelled {
		return true, ErrTaskCancelled
	}
	if t.finished {
		return true, nil
	}
	done, err := t.step(ctx)
	if done || err != nil {
		t.finish()
	}
	return done || err != nil, err
}

// Cancel implements Task.
func (t *funcTask) Cancel() {
	if t.finished {
		return
	}
	t.cancelled = true
	t.finish()
}

func (t *funcTask) finish() {
	t.finished = true
	if t.cleanup != nil {
		t.cleanup()
	}
}

// SleepFunc suspends the caller between task steps.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RunnerOption configures a TaskRunner.
type RunnerOption func(*TaskRunner)

// WithClock overrides the clock used for timeout checks.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *TaskRunner) {
		r.now = now
	}
}

// WithSleeper overrides how the runner waits between steps.
func WithSleeper(sleep SleepFunc) RunnerOption {
	return func(r *TaskRunner) {
		r.sleep = sleep
	}
}

// TaskRunner drives a Task to completion, enforcing an optional overall timeout.
type TaskRunner struct {
	// name identifies the task in errors and logs
	name string

	// task is the work being driven
	task Task

	// now returns the current time
	now func() time.Time

	// sleep waits between steps
	sleep SleepFunc

	// started is set once Start has been called
	started bool

	// done is set once the task finished, failed, timed out or was cancelled
	done bool

	// err is the terminal error of the task, if any
	err error

	// deadline is the point after which the task is cancelled; zero means none
	deadline time.Time
}

// NewTaskRunner creates a runner for task.
func NewTaskRunner(name string, task Task, opts ...RunnerOption) *TaskRunner {
	r := &TaskRunner{
		name:  name,
		task:  task,
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the name the runner was created with.
func (r *TaskRunner) Name() string {
	return r.name
}

// Start starts the task and performs its first step. A timeout of zero
// means the task may run forever.
func (r *TaskRunner) Start(ctx context.Context, timeout time.Duration) error {
	if r.started {
		return NewPermanentError(fmt.Sprintf("task %s already started", r.name), nil).
			WithCode(ErrCodeInternal)
	}
	r.started = true
	if timeout > 0 {
		r.deadline = r.now().Add(timeout)
	}
	_, err := r.Step(ctx)
	return err
}

// Step advances the task by one step and reports whether it is done.
func (r *TaskRunner) Step(ctx context.Context) (bool, error) {
	if r.done {
		return true, r.err
	}

	if err := ctx.Err(); err != nil {
		r.task.Cancel()
		return r.finish(NewPermanentError(fmt.Sprintf("%s cancelled", r.name), err))
	}

	if !r.deadline.IsZero() && r.now().After(r.deadline) {
		r.task.Cancel()
		return r.finish(NewTimeoutError(r.name, nil))
	}

	done, err := r.task.Step(ctx)
	if err != nil {
		return r.finish(err)
	}
	if done {
		return r.finish(nil)
	}
	return false, nil
}

// Run starts the task if necessary and steps it until it finishes, waiting
// wait between steps.
func (r *TaskRunner) Run(ctx context.Context, wait, timeout time.Duration) error {
	if !r.started {
		if err := r.Start(ctx, timeout); err != nil {
			return err
		}
	}

	for !r.done {
		if err := r.sleep(ctx, wait); err != nil {
			r.task.Cancel()
			_, ferr := r.finish(NewPermanentError(fmt.Sprintf("%s cancelled", r.name), err))
			return ferr
		}
		if _, err := r.Step(ctx); err != nil {
			return err
		}
	}

	return r.err
}

// Cancel terminates the task if it is still running.
func (r *TaskRunner) Cancel() {
	if !r.started || r.done {
		return
	}
	r.task.Cancel()
	r.done = true
	r.err = ErrTaskCancelled
}

// Started reports whether Start has been called.
func (r *TaskRunner) Started() bool {
	return r.started
}

// Done reports whether the task has finished in any way.
func (r *TaskRunner) Done() bool {
	return r.done
}

// Err returns the terminal error of the task.
func (r *TaskRunner) Err() error {
	return r.err
}

func (r *TaskRunner) finish(err error) (bool, error) {
	r.done = true
	r.err = err
	return true, err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskFactory builds the task for one graph node.
type TaskFactory func(name string) Task

// DependencyTaskGroup runs one task per graph node. A node's task starts only
// after the tasks of every node it requires (or, in reverse mode, every node
// requiring it) completed successfully. Unrelated tasks are stepped in turn.
// After the first failure no new task is started; tasks already running are
// stepped until they finish and the group then returns the first failure.
type DependencyTaskGroup struct {
	// name identifies the group in errors
	name string

	// graph holds the ordering constraints
	graph *Graph

	// reverse runs dependents before the nodes they require
	reverse bool

	// order is the deterministic visiting order of the nodes
	order []string

	// runners maps node names to the runner of their task
	runners map[string]*TaskRunner

	// failure is the first error reported by any task
	failure error
}

// NewDependencyTaskGroup builds the group, creating one task per node with factory.
func NewDependencyTaskGroup(name string, graph *Graph, factory TaskFactory, reverse bool) (*DependencyTaskGroup, error) {
	var (
		order []string
		err   error
	)
	if reverse {
		order, err = graph.ReverseOrder()
	} else {
		order, err = graph.TopologicalOrder()
	}
	if err != nil {
		return nil, err
	}

	g := &DependencyTaskGroup{
		name:    name,
		graph:   graph,
		reverse: reverse,
		order:   order,
		runners: make(map[string]*TaskRunner, len(order)),
	}
	for _, node := range order {
		g.runners[node] = NewTaskRunner(node, factory(node))
	}
	return g, nil
}

// Step implements Task.
func (g *DependencyTaskGroup) Step(ctx context.Context) (bool, error) {
	for _, node := range g.order {
		r := g.runners[node]
		if !r.Started() || r.Done() {
			continue
		}
		if _, err := r.Step(ctx); err != nil && g.failure == nil {
			g.failure = err
		}
	}

	if g.failure == nil {
		g.startReady(ctx)
	}

	if g.running() > 0 {
		return false, nil
	}
	if g.failure != nil {
		return true, g.failure
	}
	for _, node := range g.order {
		if !g.runners[node].Done() {
			return true, NewPermanentError(
				fmt.Sprintf("%s: task %s can never become ready", g.name, node), nil,
			).WithCode(ErrCodeInternal)
		}
	}
	return true, nil
}

// Cancel implements Task by cancelling every running task.
func (g *DependencyTaskGroup) Cancel() {
	for _, node := range g.order {
		g.runners[node].Cancel()
	}
}

// startReady starts every task whose predecessors completed successfully.
func (g *DependencyTaskGroup) startReady(ctx context.Context) {
	for _, node := range g.order {
		r := g.runners[node]
		if r.Started() || !g.ready(node) {
			continue
		}
		if err := r.Start(ctx, 0); err != nil {
			g.failure = err
			return
		}
	}
}

// ready reports whether every predecessor of node completed without error.
func (g *DependencyTaskGroup) ready(node string) bool {
	var predecessors []string
	if g.reverse {
		predecessors = g.graph.RequiredBy(node)
	} else {
		predecessors = g.graph.Requires(node)
	}
	for _, p := range predecessors {
		r := g.runners[p]
		if !r.Done() || r.Err() != nil {
			return false
		}
	}
	return true
}

func (g *DependencyTaskGroup) running() int {
	n := 0
	for _, r := range g.runners {
		if r.Started() && !r.Done() {
			n++
		}
	}
	return n
}

// PollingTaskGroup runs a fixed list of independent tasks concurrently until
// all of them finish. If one fails the others are cancelled.
type PollingTaskGroup struct {
	name    string
	runners []*TaskRunner
	started bool
}

// NewPollingTaskGroup creates a group over tasks.
func NewPollingTaskGroup(name string, tasks ...Task) *PollingTaskGroup {
	runners := make([]*TaskRunner, len(tasks))
	for i, t := range tasks {
		runners[i] = NewTaskRunner(fmt.Sprintf("%s[%d]", name, i), t)
	}
	return &PollingTaskGroup{name: name, runners: runners}
}

// Step implements Task.
func (p *PollingTaskGroup) Step(ctx context.Context) (bool, error) {
	first := !p.started
	p.started = true

	for _, r := range p.runners {
		var err error
		switch {
		case first:
			err = r.Start(ctx, 0)
		case !r.Done():
			_, err = r.Step(ctx)
		}
		if err != nil {
			p.Cancel()
			return true, err
		}
	}

	for _, r := range p.runners {
		if !r.Done() {
			return false, nil
		}
	}
	return true, nil
}

// Cancel implements Task.
func (p *PollingTaskGroup) Cancel() {
	for _, r := range p.runners {
		r.Cancel()
	}
}

// sequenceTask runs tasks one after another.
type sequenceTask struct {
	tasks   []Task
	current int
}

// Sequence returns a task that runs each of tasks to completion in order and
// stops at the first error.
func Sequence(tasks ...Task) Task {
	return &sequenceTask{tasks: tasks}
}

// Step implements Task.
func (s *sequenceTask) Step(ctx context.Context) (bool, error) {
	if s.current >= len(s.tasks) {
		return true, nil
	}
	done, err := s.tasks[s.current].Step(ctx)
	if err != nil {
		return true, err
	}
	if done {
		s.current++
	}
	return s.current >= len(s.tasks), nil
}

// Cancel implements Task.
func (s *sequenceTask) Cancel() {
	if s.current < len(s.tasks) {
		s.tasks[s.current].Cancel()
	}
}
