package engine

import (
	"context"
	"testing"
)

func TestResource_CreateLifecycle(t *testing.T) {
	cloud := newFakeCloud()
	cloud.polls = 2
	repo := newMockRepository()
	s := newTestStack(t, singleTemplate(thing(map[string]interface{}{"Value": "a"})), cloud, repo)
	r := mustResource(t, s, "A")

	if !r.State().IsInitial() {
		t.Fatalf("Expected initial state, got %s", r.State())
	}
	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	if !r.State().Is(ActionCreate, StatusComplete) {
		t.Errorf("Expected CREATE_COMPLETE, got %s", r.State())
	}
	if r.PhysicalID != "phys-1" {
		t.Errorf("Expected physical id phys-1, got %q", r.PhysicalID)
	}

	events := repo.eventsFor("A")
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Status != StatusInProgress || events[1].Status != StatusComplete {
		t.Errorf("Unexpected event sequence: %s, %s", events[0].Status, events[1].Status)
	}

	records, _ := repo.ListResources(context.Background(), s.ID)
	if len(records) != 1 || records[0].PhysicalID != "phys-1" || records[0].Status != StatusComplete {
		t.Errorf("Expected stored CREATE_COMPLETE row with physical id, got %+v", records)
	}
}

func TestResource_CreateOnlyFromInitialState(t *testing.T) {
	cloud := newFakeCloud()
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, nil)
	r := mustResource(t, s, "A")

	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	err := runTask(r.CreateTask())
	if !IsResourceFailure(err) || !IsInvalidState(err) {
		t.Fatalf("Expected an invalid state resource failure, got %v", err)
	}
	if n := len(cloud.callsOf("create")); n != 1 {
		t.Errorf("Expected one create call, got %d", n)
	}
	if !r.State().Is(ActionCreate, StatusComplete) {
		t.Errorf("Expected state untouched, got %s", r.State())
	}
}

func TestResource_CreateFailure(t *testing.T) {
	cloud := newFakeCloud()
	cloud.failCreate["A"] = true
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, nil)
	r := mustResource(t, s, "A")

	err := runTask(r.CreateTask())
	if !IsResourceFailure(err) {
		t.Fatalf("Expected a resource failure, got %v", err)
	}
	if !r.State().Is(ActionCreate, StatusFailed) {
		t.Errorf("Expected CREATE_FAILED, got %s", r.State())
	}
	if r.StatusReason != "boom" {
		t.Errorf("Expected reason boom, got %q", r.StatusReason)
	}
}

func TestResource_CreateValidatesProperties(t *testing.T) {
	cloud := newFakeCloud()
	s := newTestStack(t, singleTemplate(thing(map[string]interface{}{"Size": -3})), cloud, nil)
	r := mustResource(t, s, "A")

	err := runTask(r.CreateTask())
	if !IsResourceFailure(err) {
		t.Fatalf("Expected a resource failure, got %v", err)
	}
	if !r.State().Is(ActionCreate, StatusFailed) {
		t.Errorf("Expected CREATE_FAILED, got %s", r.State())
	}
	if len(cloud.callsOf("create")) != 0 {
		t.Error("Expected no driver call for invalid properties")
	}
}

func TestResource_DeleteIsIdempotent(t *testing.T) {
	cloud := newFakeCloud()
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, nil)
	r := mustResource(t, s, "A")

	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := runTask(r.DeleteTask()); err != nil {
			t.Fatalf("delete #%d error = %v", i+1, err)
		}
	}
	if n := len(cloud.callsOf("delete")); n != 1 {
		t.Errorf("Expected one delete call, got %d", n)
	}
	if !r.State().Is(ActionDelete, StatusComplete) {
		t.Errorf("Expected DELETE_COMPLETE, got %s", r.State())
	}
	if r.PhysicalID != "" {
		t.Errorf("Expected physical id cleared, got %q", r.PhysicalID)
	}
}

func TestResource_DeleteNeverCreated(t *testing.T) {
	cloud := newFakeCloud()
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, nil)
	r := mustResource(t, s, "A")

	if err := runTask(r.DeleteTask()); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if len(cloud.calls) != 0 {
		t.Errorf("Expected no driver calls, got %v", cloud.calls)
	}
	if !r.State().IsInitial() {
		t.Errorf("Expected state untouched, got %s", r.State())
	}
}

func TestResource_DeleteRetain(t *testing.T) {
	cloud := newFakeCloud()
	s := newTestStack(t, singleTemplate(thing(nil, KeyDeletionPolicy, DeletionPolicyRetain)), cloud, nil)
	r := mustResource(t, s, "A")

	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	if err := runTask(r.DeleteTask()); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if len(cloud.callsOf("delete")) != 0 {
		t.Error("Expected Retain to skip the driver")
	}
	if r.PhysicalID != "phys-1" {
		t.Errorf("Expected physical id kept, got %q", r.PhysicalID)
	}
}

func TestResource_DestroyRemovesRecordAfterDelete(t *testing.T) {
	cloud := newFakeCloud()
	repo := newMockRepository()
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, repo)
	r := mustResource(t, s, "A")

	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}

	cloud.failDelete["A"] = true
	if err := runTask(r.DestroyTask()); err == nil {
		t.Fatal("Expected destroy to fail")
	}
	records, _ := repo.ListResources(context.Background(), s.ID)
	if len(records) != 1 {
		t.Fatalf("Expected the row to survive a failed delete, got %d rows", len(records))
	}

	cloud.failDelete["A"] = false
	if err := runTask(r.DestroyTask()); err != nil {
		t.Fatalf("destroy error = %v", err)
	}
	records, _ = repo.ListResources(context.Background(), s.ID)
	if len(records) != 0 {
		t.Errorf("Expected the row to be removed, got %d rows", len(records))
	}
}

func TestResource_UpdateInPlace(t *testing.T) {
	cloud := newFakeCloud()
	s := newTestStack(t, singleTemplate(thing(map[string]interface{}{"Value": "a", "Size": 1})), cloud, nil)
	r := mustResource(t, s, "A")
	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}

	after := thing(map[string]interface{}{"Value": "a", "Size": 5})
	if err := runTask(r.UpdateTask(after)); err != nil {
		t.Fatalf("update error = %v", err)
	}
	if !r.State().Is(ActionUpdate, StatusComplete) {
		t.Errorf("Expected UPDATE_COMPLETE, got %s", r.State())
	}
	diff := cloud.propDiffs["A"]
	if len(diff) != 1 || diff["Size"] != int64(5) {
		t.Errorf("Expected prop diff {Size: 5}, got %v", diff)
	}
	if r.PhysicalID != "phys-1" {
		t.Errorf("Expected physical id unchanged, got %q", r.PhysicalID)
	}
	if r.Definition().Properties()["Size"] != 5 {
		t.Errorf("Expected the new definition to be adopted, got %v", r.Definition())
	}
}

func TestResource_UpdateRequiresReplacement(t *testing.T) {
	cloud := newFakeCloud()
	repo := newMockRepository()
	s := newTestStack(t, singleTemplate(thing(map[string]interface{}{"Value": "a"})), cloud, repo)
	r := mustResource(t, s, "A")
	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	before := len(repo.eventsFor("A"))

	err := runTask(r.UpdateTask(thing(map[string]interface{}{"Value": "changed"})))
	if !IsUpdateReplace(err) {
		t.Fatalf("Expected replacement signal, got %v", err)
	}
	if IsResourceFailure(err) {
		t.Error("Replacement must not be reported as a failure")
	}
	if !r.State().Is(ActionCreate, StatusComplete) {
		t.Errorf("Expected state untouched, got %s", r.State())
	}
	if len(repo.eventsFor("A")) != before {
		t.Error("Expected no event for a refused update")
	}
	if len(cloud.callsOf("update")) != 0 {
		t.Error("Expected no update call")
	}
}

func TestResource_UpdateHookRequestsReplacement(t *testing.T) {
	cloud := newFakeCloud()
	repo := newMockRepository()
	s := newTestStack(t, singleTemplate(thing(map[string]interface{}{"Value": "a"})), cloud, repo)
	r := mustResource(t, s, "A")
	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	cloud.replaceUpdate["A"] = true

	err := runTask(r.UpdateTask(thing(map[string]interface{}{"Value": "a", "Size": 2})))
	if !IsUpdateReplace(err) {
		t.Fatalf("Expected replacement signal, got %v", err)
	}
	if IsResourceFailure(err) {
		t.Error("Replacement must not be reported as a failure")
	}
	if r.Status == StatusFailed {
		t.Errorf("Expected no failed state, got %s %q", r.State(), r.StatusReason)
	}
	for _, ev := range repo.eventsFor("A") {
		if ev.Status == StatusFailed {
			t.Errorf("Expected no FAILED event, got %s %s %q", ev.Action, ev.Status, ev.Reason)
		}
	}
}

func TestResource_UpdateWithoutHookRequiresReplacement(t *testing.T) {
	cloud := newFakeCloud()
	reg := NewRegistry()
	d := cloud.driver()
	d.HandleUpdate = nil
	reg.MustRegister(d)

	opts := testOptions(cloud, nil)
	opts.Registry = reg
	s, err := NewStack("s", singleTemplate(thing(map[string]interface{}{"Size": 1})), opts)
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	r := mustResource(t, s, "A")
	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}

	err = runTask(r.UpdateTask(thing(map[string]interface{}{"Size": 2})))
	if !IsUpdateReplace(err) {
		t.Fatalf("Expected replacement signal, got %v", err)
	}
}

func TestResource_SuspendResume(t *testing.T) {
	cloud := newFakeCloud()
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, nil)
	r := mustResource(t, s, "A")

	err := runTask(r.SuspendTask())
	if !IsInvalidState(err) {
		t.Fatalf("Expected invalid state suspending a never created resource, got %v", err)
	}
	if len(cloud.callsOf("suspend")) != 0 {
		t.Error("Expected no suspend call from an invalid state")
	}

	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	if err := runTask(r.ResumeTask()); !IsInvalidState(err) {
		t.Fatalf("Expected invalid state resuming an active resource, got %v", err)
	}
	if err := runTask(r.SuspendTask()); err != nil {
		t.Fatalf("suspend error = %v", err)
	}
	if !r.State().Is(ActionSuspend, StatusComplete) {
		t.Errorf("Expected SUSPEND_COMPLETE, got %s", r.State())
	}
	if err := runTask(r.ResumeTask()); err != nil {
		t.Fatalf("resume error = %v", err)
	}
	if !r.State().Is(ActionResume, StatusComplete) {
		t.Errorf("Expected RESUME_COMPLETE, got %s", r.State())
	}
}

func TestResource_SuspendNotSupported(t *testing.T) {
	cloud := newFakeCloud()
	reg := NewRegistry()
	d := cloud.driver()
	d.HandleSuspend = nil
	reg.MustRegister(d)

	opts := testOptions(cloud, nil)
	opts.Registry = reg
	s, err := NewStack("s", singleTemplate(thing(nil)), opts)
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	r := mustResource(t, s, "A")
	if err := runTask(r.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}

	err = runTask(r.SuspendTask())
	if !IsResourceFailure(err) || asCode(err, ErrCodeNotSupported) == nil {
		t.Fatalf("Expected a not supported failure, got %v", err)
	}
	if !r.State().Is(ActionCreate, StatusComplete) {
		t.Errorf("Expected state untouched, got %s", r.State())
	}
}

func TestResource_EventOnlyOnStateChange(t *testing.T) {
	cloud := newFakeCloud()
	repo := newMockRepository()
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, repo)
	r := mustResource(t, s, "A")
	ctx := context.Background()

	r.setState(ctx, ActionCreate, StatusInProgress, "first")
	r.setState(ctx, ActionCreate, StatusInProgress, "same pair")
	r.setState(ctx, ActionCreate, StatusComplete, "done")

	if n := len(repo.eventsFor("A")); n != 2 {
		t.Errorf("Expected 2 events, got %d", n)
	}
}

func TestResource_CancelMarksFailed(t *testing.T) {
	cloud := newFakeCloud()
	cloud.polls = 100
	s := newTestStack(t, singleTemplate(thing(nil)), cloud, nil)
	r := mustResource(t, s, "A")

	task := r.CreateTask()
	if done, err := task.Step(context.Background()); done || err != nil {
		t.Fatalf("Expected the first step to suspend, got done=%v err=%v", done, err)
	}
	task.Cancel()
	if !r.State().Is(ActionCreate, StatusFailed) || r.StatusReason != "Create cancelled" {
		t.Errorf("Expected CREATE_FAILED 'Create cancelled', got %s %q", r.State(), r.StatusReason)
	}
}

func TestResource_References(t *testing.T) {
	cloud := newFakeCloud()
	tmpl := &Template{
		Resources: map[string]ResourceDefinition{
			"A": thing(map[string]interface{}{"Value": "alpha"}),
			"B": thing(map[string]interface{}{"Peer": ref("A")}),
			"C": thing(map[string]interface{}{
				"Peer": map[string]interface{}{FnGetAtt: []interface{}{"A", "Value"}},
			}),
		},
	}
	s := newTestStack(t, tmpl, cloud, nil)
	a, b, c := mustResource(t, s, "A"), mustResource(t, s, "B"), mustResource(t, s, "C")

	props, err := b.Properties()
	if err != nil {
		t.Fatalf("Properties() error = %v", err)
	}
	if _, set := props["Peer"]; set {
		t.Errorf("Expected Ref to an uncreated resource to be unresolved, got %v", props["Peer"])
	}

	if err := runTask(a.CreateTask()); err != nil {
		t.Fatalf("create error = %v", err)
	}
	if props, _ = b.Properties(); props["Peer"] != "phys-1" {
		t.Errorf("Expected Ref to resolve to phys-1, got %v", props["Peer"])
	}
	if props, _ = c.Properties(); props["Peer"] != "alpha" {
		t.Errorf("Expected GetAtt to resolve to alpha, got %v", props["Peer"])
	}

	if deps := s.Graph().Requires("C"); len(deps) != 1 || deps[0] != "A" {
		t.Errorf("Expected C to require A, got %v", deps)
	}
}

func TestResource_GetAttUnknownAttribute(t *testing.T) {
	cloud := newFakeCloud()
	tmpl := &Template{
		Resources: map[string]ResourceDefinition{
			"A": thing(nil),
			"B": thing(map[string]interface{}{
				"Peer": map[string]interface{}{FnGetAtt: []interface{}{"A", "Nope"}},
			}),
		},
	}
	_, err := NewStack("s", tmpl, testOptions(cloud, nil))
	if asCode(err, ErrCodeInvalidAttribute) == nil {
		t.Fatalf("Expected invalid attribute error, got %v", err)
	}
}
