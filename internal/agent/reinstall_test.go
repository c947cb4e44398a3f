package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/IvanDubrovin-std/ovpn-control/pkg/agentapi"
)

func TestReinstallRebuildsDeployment(t *testing.T) {
	runner := &fakeRunner{}
	a := newTestAgent(t, runner)

	var checkpoints []int
	res := a.Reinstall(context.Background(), nil, nil)
	if res.OK() {
		t.Fatal("expected nil config to be rejected")
	}

	res = a.Reinstall(context.Background(), agentapi.DefaultConfig(), func(progress int, desc string) {
		checkpoints = append(checkpoints, progress)
	})
	if !res.OK() {
		t.Fatalf("expected success, got: %s / %s", res.Message, res.Error)
	}

	for _, want := range []string{"systemctl stop", "rm -rf", "init-pki", "systemctl enable"} {
		if !runner.ran(want) {
			t.Errorf("expected command containing %q to run", want)
		}
	}

	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i] < checkpoints[i-1] {
			t.Fatalf("progress went backwards: %v", checkpoints)
		}
	}
	if last := checkpoints[len(checkpoints)-1]; last != 100 {
		t.Errorf("expected final checkpoint 100, got %d", last)
	}
}

func TestReinstallFailsWhenServiceStaysInactive(t *testing.T) {
	runner := &fakeRunner{rules: []runnerRule{
		{match: "systemctl is-active", res: &ExecResult{ExitCode: 3}},
	}}
	a := newTestAgent(t, runner)

	res := a.Reinstall(context.Background(), agentapi.DefaultConfig(), nil)
	if res.OK() {
		t.Fatal("expected failure when the rebuilt service does not come up")
	}
	if !runner.ran("systemctl is-active") {
		t.Error("reinstall must verify the service state before reporting success")
	}
	if !strings.Contains(res.Message, "not active") {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestReinstallFailureScalesConfigureProgress(t *testing.T) {
	runner := &fakeRunner{rules: []runnerRule{
		{match: "gen-dh", res: &ExecResult{ExitCode: 1, Stderr: "no entropy"}},
	}}
	a := newTestAgent(t, runner)

	res := a.Reinstall(context.Background(), agentapi.DefaultConfig(), nil)
	if res.OK() {
		t.Fatal("expected failure")
	}
	// Configure failed at 25, which maps into the 30-100 band.
	want := 30 + 25*70/100
	if res.Progress != want {
		t.Errorf("expected progress %d, got %d", want, res.Progress)
	}
}
