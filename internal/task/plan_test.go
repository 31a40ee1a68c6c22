package task_test

import (
	"strings"
	"testing"

	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/task/catalog"
	"github.com/tpodg/staticnet/internal/task/cloudinit"
	"github.com/tpodg/staticnet/internal/task/netplan"
)

func TestPlanSteps_BuiltinOrder(t *testing.T) {
	planned, unknown, err := task.PlanSteps(nil, catalog.Builtins(), task.Env{Prefix: "sudo -n "})
	if err != nil {
		t.Fatalf("PlanSteps failed: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("unexpected unknown keys: %v", unknown)
	}

	var names []string
	for _, step := range planned {
		names = append(names, step.Name)
	}
	want := []string{cloudinit.RemoveStepName, cloudinit.DisableStepName, netplan.WriteStepName, netplan.ApplyStepName}
	if strings.Join(names, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, names)
	}
}

func TestPlanSteps_UnknownKeys(t *testing.T) {
	overrides := map[string]any{
		"fail2ban": map[string]any{"enabled": true},
		"netplan":  map[string]any{"apply": map[string]any{"detach": true}},
	}
	_, unknown, err := task.PlanSteps(overrides, catalog.Builtins(), task.Env{})
	if err != nil {
		t.Fatalf("PlanSteps failed: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "fail2ban" {
		t.Errorf("expected fail2ban to be reported, got %v", unknown)
	}
}

func TestPlanSteps_DuplicateSpec(t *testing.T) {
	specs := []task.Spec{cloudinit.Spec(), cloudinit.Spec()}
	if _, _, err := task.PlanSteps(nil, specs, task.Env{}); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
