package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

const testType = "Test::Thing"

// mockRepository is an in-memory Repository.
type mockRepository struct {
	mu        sync.Mutex
	stacks    map[string]*StackRecord
	resources map[string]*ResourceRecord
	events    []*EventRecord
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		stacks:    make(map[string]*StackRecord),
		resources: make(map[string]*ResourceRecord),
	}
}

func (m *mockRepository) CreateStack(ctx context.Context, s *StackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stacks[s.ID]; exists {
		return fmt.Errorf("stack %s exists", s.ID)
	}
	cp := *s
	m.stacks[s.ID] = &cp
	return nil
}

func (m *mockRepository) UpdateStack(ctx context.Context, s *StackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stacks[s.ID]; !exists {
		return NewNotFoundError("stack", s.ID)
	}
	cp := *s
	m.stacks[s.ID] = &cp
	return nil
}

func (m *mockRepository) GetStack(ctx context.Context, id string) (*StackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stacks[id]
	if !ok {
		return nil, NewNotFoundError("stack", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepository) GetStackByName(ctx context.Context, name string) (*StackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stacks {
		if s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, NewNotFoundError("stack", name)
}

func (m *mockRepository) ListStacks(ctx context.Context) ([]*StackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StackRecord
	for _, s := range m.stacks {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepository) DeleteStack(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, id)
	for rid, r := range m.resources {
		if r.StackID == id {
			delete(m.resources, rid)
		}
	}
	return nil
}

func (m *mockRepository) CreateResource(ctx context.Context, r *ResourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.resources[r.ID] = &cp
	return nil
}

func (m *mockRepository) UpdateResource(ctx context.Context, r *ResourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[r.ID]; !ok {
		return NewNotFoundError("resource", r.ID)
	}
	cp := *r
	m.resources[r.ID] = &cp
	return nil
}

func (m *mockRepository) DeleteResource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, id)
	return nil
}

func (m *mockRepository) ListResources(ctx context.Context, stackID string) ([]*ResourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ResourceRecord
	for _, r := range m.resources {
		if r.StackID == stackID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepository) AddEvent(ctx context.Context, e *EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockRepository) ListEvents(ctx context.Context, stackID string) ([]*EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*EventRecord
	for _, e := range m.events {
		if e.StackID == stackID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepository) eventsFor(resource string) []*EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*EventRecord
	for _, e := range m.events {
		if e.ResourceName == resource {
			out = append(out, e)
		}
	}
	return out
}

// fakeCloud records driver calls and can be told to fail them.
type fakeCloud struct {
	calls      []string
	failCreate map[string]bool
	failDelete map[string]bool
	failUpdate map[string]bool
	polls      int
	nextID     int
	live       map[string]bool
	propDiffs  map[string]map[string]interface{}

	// replaceUpdate makes HandleUpdate ask for replacement.
	replaceUpdate map[string]bool
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		failCreate:    make(map[string]bool),
		failDelete:    make(map[string]bool),
		failUpdate:    make(map[string]bool),
		replaceUpdate: make(map[string]bool),
		live:          make(map[string]bool),
		propDiffs:     make(map[string]map[string]interface{}),
	}
}

func (c *fakeCloud) record(op, name string) {
	c.calls = append(c.calls, op+":"+name)
}

// callsOf returns the recorded calls of one operation, in order.
func (c *fakeCloud) callsOf(op string) []string {
	var out []string
	for _, call := range c.calls {
		if len(call) > len(op) && call[:len(op)+1] == op+":" {
			out = append(out, call[len(op)+1:])
		}
	}
	return out
}

func (c *fakeCloud) indexOf(call string) int {
	for i, recorded := range c.calls {
		if recorded == call {
			return i
		}
	}
	return -1
}

func (c *fakeCloud) pollCheck() CheckFunc {
	return func(ctx context.Context, r *Resource, cookie Cookie) (bool, error) {
		remaining := cookie.(*int)
		if *remaining <= 0 {
			return true, nil
		}
		*remaining--
		return false, nil
	}
}

func (c *fakeCloud) driver() *Driver {
	return &Driver{
		Type: testType,
		Properties: map[string]PropertySchema{
			"Value": {Type: PropertyString},
			"Size":  {Type: PropertyInteger, Default: int64(1), MinValue: FloatPtr(0)},
			"Peer":  {Type: PropertyString},
		},
		Attributes: map[string]string{
			"Value": "the Value property",
		},
		UpdateAllowedProperties: []string{"Size"},
		HandleCreate: func(ctx context.Context, r *Resource) (Cookie, error) {
			c.record("create", r.Name)
			if c.failCreate[r.Name] {
				return nil, errors.New("boom")
			}
			c.nextID++
			id := fmt.Sprintf("phys-%d", c.nextID)
			r.SetPhysicalID(ctx, id)
			c.live[id] = true
			polls := c.polls
			return &polls, nil
		},
		CheckCreateComplete: c.pollCheck(),
		HandleDelete: func(ctx context.Context, r *Resource) (Cookie, error) {
			c.record("delete", r.Name)
			if c.failDelete[r.Name] {
				return nil, errors.New("delete refused")
			}
			delete(c.live, r.PhysicalID)
			return nil, nil
		},
		HandleUpdate: func(ctx context.Context, r *Resource, after ResourceDefinition, tmplDiff, propDiff map[string]interface{}) (Cookie, error) {
			c.record("update", r.Name)
			if c.failUpdate[r.Name] {
				return nil, errors.New("update refused")
			}
			if c.replaceUpdate[r.Name] {
				return nil, &UpdateReplace{Resource: r.Name}
			}
			c.propDiffs[r.Name] = propDiff
			return nil, nil
		},
		HandleSuspend: func(ctx context.Context, r *Resource) (Cookie, error) {
			c.record("suspend", r.Name)
			return nil, nil
		},
		HandleResume: func(ctx context.Context, r *Resource) (Cookie, error) {
			c.record("resume", r.Name)
			return nil, nil
		},
		ResolveAttribute: func(r *Resource, name string) (interface{}, error) {
			props, err := r.Properties()
			if err != nil {
				return nil, err
			}
			return props[name], nil
		},
	}
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// thing builds a definition of the test type.
func thing(props map[string]interface{}, extra ...string) ResourceDefinition {
	def := ResourceDefinition{KeyType: testType}
	if props != nil {
		def[KeyProperties] = props
	}
	for i := 0; i+1 < len(extra); i += 2 {
		def[extra[i]] = extra[i+1]
	}
	return def
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{FnRef: name}
}

func newTestRegistry(c *fakeCloud) *Registry {
	reg := NewRegistry()
	reg.MustRegister(c.driver())
	return reg
}

func testOptions(c *fakeCloud, repo Repository) StackOptions {
	opts := StackOptions{
		Registry:      newTestRegistry(c),
		PollInterval:  time.Millisecond,
		RunnerOptions: []RunnerOption{WithSleeper(noSleep)},
	}
	if repo != nil {
		opts.Repository = repo
	}
	return opts
}

// newTestStack builds and, when repo is set, stores a stack.
func newTestStack(t *testing.T, tmpl *Template, c *fakeCloud, repo Repository) *Stack {
	t.Helper()
	s, err := NewStack("test-stack", tmpl, testOptions(c, repo))
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	if repo != nil {
		if err := s.Store(context.Background()); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}
	return s
}

func runTask(task Task) error {
	return NewTaskRunner("test", task, WithSleeper(noSleep)).Run(context.Background(), 0, 0)
}

func mustResource(t *testing.T, s *Stack, name string) *Resource {
	t.Helper()
	r, ok := s.Resource(name)
	if !ok {
		t.Fatalf("resource %s not found", name)
	}
	return r
}

// chainTemplate returns A <- B <- C where B refs A and C depends on B.
func chainTemplate() *Template {
	return &Template{
		Resources: map[string]ResourceDefinition{
			"A": thing(map[string]interface{}{"Value": "a"}),
			"B": thing(map[string]interface{}{"Value": "b", "Peer": ref("A")}),
			"C": thing(map[string]interface{}{"Value": "c"}, KeyDependsOn, "B"),
		},
	}
}

// singleTemplate returns a template holding def as resource A.
func singleTemplate(def ResourceDefinition) *Template {
	return &Template{Resources: map[string]ResourceDefinition{"A": def}}
}
