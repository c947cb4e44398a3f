package server

import "testing"

func TestStatusIsValid(t *testing.T) {
	valid := []Status{StatusPending, StatusInstalling, StatusInstalled,
		StatusRunning, StatusStopped, StatusReinstalling, StatusError}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []Status{"", "unknown", "Running"} {
		if s.IsValid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusInstalling},
		{StatusInstalling, StatusInstalled},
		{StatusInstalling, StatusError},
		{StatusInstalled, StatusInstalling},
		{StatusInstalled, StatusRunning},
		{StatusInstalled, StatusReinstalling},
		{StatusRunning, StatusStopped},
		{StatusRunning, StatusReinstalling},
		{StatusStopped, StatusRunning},
		{StatusReinstalling, StatusRunning},
		{StatusReinstalling, StatusError},
		{StatusError, StatusInstalling},
		{StatusError, StatusReinstalling},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusRunning},
		{StatusPending, StatusReinstalling},
		{StatusInstalling, StatusRunning},
		{StatusRunning, StatusInstalling},
		{StatusRunning, StatusRunning},
		{StatusStopped, StatusInstalling},
		{StatusError, StatusInstalled},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestStatusIsBusy(t *testing.T) {
	busy := []Status{StatusInstalling, StatusReinstalling}
	for _, s := range busy {
		if !s.IsBusy() {
			t.Errorf("%s should be busy", s)
		}
	}
	idle := []Status{StatusPending, StatusInstalled, StatusRunning, StatusStopped, StatusError}
	for _, s := range idle {
		if s.IsBusy() {
			t.Errorf("%s should not be busy", s)
		}
	}
}

func TestStatusIsMonitorable(t *testing.T) {
	probe := []Status{StatusInstalled, StatusRunning, StatusStopped, StatusError}
	for _, s := range probe {
		if !s.IsMonitorable() {
			t.Errorf("%s should be monitorable", s)
		}
	}
	skip := []Status{StatusPending, StatusInstalling, StatusReinstalling}
	for _, s := range skip {
		if s.IsMonitorable() {
			t.Errorf("%s should be skipped by the monitor", s)
		}
	}
}
