package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingTask finishes after a fixed number of steps, optionally failing.
type countingTask struct {
	name      string
	steps     int
	failAt    int
	stepped   int
	cancelled bool
	log       *[]string
}

func (c *countingTask) Step(ctx context.Context) (bool, error) {
	c.stepped++
	if c.log != nil && c.stepped == 1 {
		*c.log = append(*c.log, "start:"+c.name)
	}
	if c.failAt > 0 && c.stepped == c.failAt {
		return true, errors.New(c.name + " failed")
	}
	if c.stepped >= c.steps {
		if c.log != nil {
			*c.log = append(*c.log, "done:"+c.name)
		}
		return true, nil
	}
	return false, nil
}

func (c *countingTask) Cancel() {
	c.cancelled = true
}

func indexIn(log []string, entry string) int {
	for i, e := range log {
		if e == entry {
			return i
		}
	}
	return -1
}

func TestTaskRunner_RunToCompletion(t *testing.T) {
	task := &countingTask{name: "t", steps: 3}
	runner := NewTaskRunner("t", task, WithSleeper(noSleep))

	if err := runner.Run(context.Background(), time.Millisecond, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if task.stepped != 3 {
		t.Errorf("Expected 3 steps, got %d", task.stepped)
	}
	if !runner.Done() || runner.Err() != nil {
		t.Errorf("Expected runner done without error, got done=%v err=%v", runner.Done(), runner.Err())
	}
}

func TestTaskRunner_StartTwice(t *testing.T) {
	runner := NewTaskRunner("t", &countingTask{name: "t", steps: 5})
	if err := runner.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := runner.Start(context.Background(), 0); err == nil {
		t.Error("Expected second Start() to fail")
	}
}

func TestTaskRunner_Timeout(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	sleep := func(ctx context.Context, d time.Duration) error {
		now = now.Add(d)
		return nil
	}

	task := &countingTask{name: "slow", steps: 1000}
	runner := NewTaskRunner("slow", task, WithClock(clock), WithSleeper(sleep))

	err := runner.Run(context.Background(), time.Second, 5*time.Second)
	if !IsTimeout(err) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if !task.cancelled {
		t.Error("Expected the task to be cancelled on timeout")
	}
	if task.stepped > 7 {
		t.Errorf("Expected the runner to stop stepping after the deadline, got %d steps", task.stepped)
	}
}

func TestTaskRunner_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &countingTask{name: "t", steps: 1000}
	runner := NewTaskRunner("t", task, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	err := runner.Run(ctx, time.Millisecond, 0)
	if err == nil {
		t.Fatal("Expected an error after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
	if !task.cancelled {
		t.Error("Expected the task to be cancelled")
	}
}

func TestNewTask_CleanupRunsOnce(t *testing.T) {
	cleanups := 0
	steps := 0
	task := NewTask(func(ctx context.Context) (bool, error) {
		steps++
		return steps == 2, nil
	}, func() { cleanups++ })

	if err := runTask(task); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	task.Cancel()
	if cleanups != 1 {
		t.Errorf("Expected cleanup to run once, ran %d times", cleanups)
	}

	cancelled := NewTask(func(ctx context.Context) (bool, error) { return false, nil }, func() { cleanups++ })
	cancelled.Cancel()
	if cleanups != 2 {
		t.Errorf("Expected cleanup on cancel, ran %d times", cleanups)
	}
	if _, err := cancelled.Step(context.Background()); !errors.Is(err, ErrTaskCancelled) {
		t.Errorf("Expected ErrTaskCancelled stepping a cancelled task, got %v", err)
	}
}

func TestDependencyTaskGroup_ForwardOrder(t *testing.T) {
	g := NewGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "a")
	g.AddEdge("d", "b")
	g.AddEdge("d", "c")

	var log []string
	group, err := NewDependencyTaskGroup("create", g, func(name string) Task {
		return &countingTask{name: name, steps: 2, log: &log}
	}, false)
	if err != nil {
		t.Fatalf("NewDependencyTaskGroup() error = %v", err)
	}

	if err := runTask(group); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, node := range g.Nodes() {
		for _, required := range g.Requires(node) {
			if indexIn(log, "done:"+required) > indexIn(log, "start:"+node) {
				t.Errorf("%s started before %s finished: %v", node, required, log)
			}
		}
	}
}

func TestDependencyTaskGroup_ReverseOrder(t *testing.T) {
	g := NewGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")

	var log []string
	group, err := NewDependencyTaskGroup("delete", g, func(name string) Task {
		return &countingTask{name: name, steps: 2, log: &log}
	}, true)
	if err != nil {
		t.Fatalf("NewDependencyTaskGroup() error = %v", err)
	}
	if err := runTask(group); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !(indexIn(log, "done:c") < indexIn(log, "start:b") && indexIn(log, "done:b") < indexIn(log, "start:a")) {
		t.Errorf("Expected c, b, a teardown order, got %v", log)
	}
}

func TestDependencyTaskGroup_FailureStopsNewStarts(t *testing.T) {
	g := NewGraph()
	g.AddNode("a")
	g.AddNode("b")
	g.AddEdge("c", "a")

	tasks := map[string]*countingTask{
		"a": {name: "a", steps: 5, failAt: 2},
		"b": {name: "b", steps: 4},
		"c": {name: "c", steps: 1},
	}
	group, err := NewDependencyTaskGroup("create", g, func(name string) Task {
		return tasks[name]
	}, false)
	if err != nil {
		t.Fatalf("NewDependencyTaskGroup() error = %v", err)
	}

	err = runTask(group)
	if err == nil || err.Error() != "a failed" {
		t.Fatalf("Expected a's failure, got %v", err)
	}
	if tasks["c"].stepped != 0 {
		t.Error("Expected c never to start after its dependency failed")
	}
	if tasks["b"].stepped != 4 {
		t.Errorf("Expected running sibling b to finish, stepped %d times", tasks["b"].stepped)
	}
	if tasks["b"].cancelled {
		t.Error("Expected running sibling b not to be cancelled")
	}
}

func TestDependencyTaskGroup_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	_, err := NewDependencyTaskGroup("create", g, func(name string) Task {
		return &countingTask{name: name, steps: 1}
	}, false)
	if err == nil {
		t.Fatal("Expected an error building a group over a cycle")
	}
}

func TestPollingTaskGroup_CancelsOthersOnFailure(t *testing.T) {
	ok := &countingTask{name: "ok", steps: 10}
	bad := &countingTask{name: "bad", steps: 10, failAt: 2}

	err := runTask(NewPollingTaskGroup("poll", ok, bad))
	if err == nil {
		t.Fatal("Expected the failure to propagate")
	}
	if !ok.cancelled {
		t.Error("Expected the healthy task to be cancelled")
	}
}

func TestPollingTaskGroup_AllComplete(t *testing.T) {
	a := &countingTask{name: "a", steps: 2}
	b := &countingTask{name: "b", steps: 4}

	if err := runTask(NewPollingTaskGroup("poll", a, b)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if a.stepped != 2 || b.stepped != 4 {
		t.Errorf("Expected 2 and 4 steps, got %d and %d", a.stepped, b.stepped)
	}
}

func TestSequence(t *testing.T) {
	var log []string
	first := &countingTask{name: "first", steps: 2, log: &log}
	second := &countingTask{name: "second", steps: 1, log: &log}

	if err := runTask(Sequence(first, second)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if indexIn(log, "done:first") > indexIn(log, "start:second") {
		t.Errorf("Expected first to finish before second starts: %v", log)
	}

	failing := &countingTask{name: "failing", steps: 2, failAt: 1}
	never := &countingTask{name: "never", steps: 1}
	if err := runTask(Sequence(failing, never)); err == nil {
		t.Fatal("Expected the sequence to fail")
	}
	if never.stepped != 0 {
		t.Error("Expected the sequence to stop at the first error")
	}
}
