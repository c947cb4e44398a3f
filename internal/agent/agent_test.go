package agent

import (
	"context"
	"strings"
	"testing"
)

// runnerRule maps a command substring to a canned result. First match wins.
type runnerRule struct {
	match string
	res   *ExecResult
	err   error
}

// fakeRunner records every executed command and answers from its rule list.
// Commands with no matching rule succeed with empty output.
type fakeRunner struct {
	rules []runnerRule
	calls []string
}

func (f *fakeRunner) Run(ctx context.Context, command string) (*ExecResult, error) {
	f.calls = append(f.calls, command)
	for _, rule := range f.rules {
		if strings.Contains(command, rule.match) {
			if rule.err != nil {
				return nil, rule.err
			}
			return rule.res, nil
		}
	}
	return &ExecResult{ExitCode: 0}, nil
}

func (f *fakeRunner) ran(substr string) bool {
	for _, cmd := range f.calls {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

// newTestAgent builds an agent with temp directories and the given runner.
func newTestAgent(t *testing.T, runner Runner) *Agent {
	t.Helper()
	return New(Options{
		Workspace: t.TempDir(),
		ServerDir: t.TempDir(),
		Runner:    runner,
	})
}

func TestInstallSkipsWhenAlreadyPresent(t *testing.T) {
	runner := &fakeRunner{}
	a := newTestAgent(t, runner)

	res := a.Install(context.Background(), nil)
	if !res.OK() {
		t.Fatalf("expected success, got %q: %s", res.Status, res.Error)
	}
	if res.Message != "OpenVPN already installed" {
		t.Errorf("unexpected message %q", res.Message)
	}
	if runner.ran("apt-get install") {
		t.Error("install should not touch the package system when openvpn is present")
	}
}

func TestInstallRunsPackageSteps(t *testing.T) {
	// The probe and the verify step both run "command -v openvpn"; failing
	// it means install proceeds through the package steps and then fails
	// on verification.
	runner := &fakeRunner{rules: []runnerRule{
		{match: "command -v openvpn", res: &ExecResult{ExitCode: 1}},
	}}
	a := newTestAgent(t, runner)

	res := a.Install(context.Background(), nil)
	if res.OK() {
		t.Fatal("expected failure when the verify probe fails")
	}
	if !runner.ran("apt-get install") {
		t.Error("expected the package install step to run")
	}
	if res.Progress != 70 {
		t.Errorf("expected failure at progress 70, got %d", res.Progress)
	}
}

func TestRunStepsToleratesMarkedFailures(t *testing.T) {
	runner := &fakeRunner{rules: []runnerRule{
		{match: "flaky", res: &ExecResult{ExitCode: 1, Stderr: "boom"}},
	}}
	a := newTestAgent(t, runner)

	steps := []Step{
		{Desc: "tolerated", Cmd: "flaky-command", Progress: 30, Tolerant: true},
		{Desc: "solid", Cmd: "true", Progress: 80},
	}
	progress, err := a.runSteps(context.Background(), steps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress != 80 {
		t.Errorf("expected progress 80, got %d", progress)
	}
}

func TestRunStepsStopsAtFatalFailure(t *testing.T) {
	runner := &fakeRunner{rules: []runnerRule{
		{match: "break", res: &ExecResult{ExitCode: 2, Stderr: "disk full"}},
	}}
	a := newTestAgent(t, runner)

	steps := []Step{
		{Desc: "ok", Cmd: "true", Progress: 20},
		{Desc: "fails", Cmd: "break-here", Progress: 60},
		{Desc: "never runs", Cmd: "true", Progress: 90},
	}
	progress, err := a.runSteps(context.Background(), steps, nil)
	if err == nil {
		t.Fatal("expected error from fatal step")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error should carry stderr detail, got %v", err)
	}
	if progress != 20 {
		t.Errorf("expected progress to stop at 20, got %d", progress)
	}
	if len(runner.calls) != 2 {
		t.Errorf("expected 2 commands run, got %d", len(runner.calls))
	}
}

func TestRunStepsProgressIsNonDecreasing(t *testing.T) {
	a := newTestAgent(t, &fakeRunner{})

	last := -1
	steps := []Step{
		{Desc: "a", Cmd: "true", Progress: 10},
		{Desc: "b", Cmd: "true", Progress: 10},
		{Desc: "c", Cmd: "true", Progress: 55},
	}
	_, err := a.runSteps(context.Background(), steps, func(progress int, desc string) {
		if progress < last {
			t.Errorf("progress went backwards: %d after %d", progress, last)
		}
		last = progress
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemapProgress(t *testing.T) {
	var got []int
	report := remapProgress(func(progress int, desc string) {
		got = append(got, progress)
	}, 30, 100)

	report(0, "start")
	report(50, "half")
	report(100, "done")

	want := []int{30, 65, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("checkpoint %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}
