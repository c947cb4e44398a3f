package events

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gookit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return NewBus(slog.Default())
}

func TestPublishTaskStartedReachesSubscriber(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var received TaskStartedEvent
	bus.Subscribe(EventTaskStarted, event.ListenerFunc(func(e event.Event) error {
		received = e.Get("payload").(TaskStartedEvent)
		return nil
	}))

	require.NoError(t, bus.PublishTaskStarted("task-1", 7, "configure"))

	assert.Equal(t, "task-1", received.TaskID)
	assert.EqualValues(t, 7, received.ServerID)
	assert.Equal(t, "configure", received.Command)
	assert.False(t, received.Timestamp.IsZero())
}

func TestPublishTaskProgress(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var got []TaskProgressEvent
	bus.Subscribe(EventTaskProgress, event.ListenerFunc(func(e event.Event) error {
		got = append(got, e.Get("payload").(TaskProgressEvent))
		return nil
	}))

	require.NoError(t, bus.PublishTaskProgress("task-1", 7, "install", 15, "Updating package index"))
	require.NoError(t, bus.PublishTaskProgress("task-1", 7, "install", 70, "Installing OpenVPN and easy-rsa"))

	require.Len(t, got, 2)
	assert.Equal(t, 15, got[0].Progress)
	assert.Equal(t, 70, got[1].Progress)
}

func TestPublishServerStatusChanged(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var received ServerStatusChangedEvent
	bus.Subscribe(EventServerStatusChanged, event.ListenerFunc(func(e event.Event) error {
		received = e.Get("payload").(ServerStatusChangedEvent)
		return nil
	}))

	require.NoError(t, bus.PublishServerStatusChanged(3, "installing", "installed", "install completed"))

	assert.Equal(t, "installing", received.PreviousStatus)
	assert.Equal(t, "installed", received.NewStatus)
	assert.Equal(t, "install completed", received.Reason)
}

func TestPublishTaskCompletedAndFailed(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var completed int
	var failed int
	bus.Subscribe(EventTaskCompleted, event.ListenerFunc(func(e event.Event) error {
		completed++
		return nil
	}))
	bus.Subscribe(EventTaskFailed, event.ListenerFunc(func(e event.Event) error {
		failed++
		return nil
	}))

	require.NoError(t, bus.PublishTaskCompleted("task-1", 1, "install", 3*time.Second))
	require.NoError(t, bus.PublishTaskFailed("task-2", 1, "configure", "gen-dh failed", 45))

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)
}

func TestBusProgressReporter(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var received TaskProgressEvent
	bus.Subscribe(EventTaskProgress, event.ListenerFunc(func(e event.Event) error {
		received = e.Get("payload").(TaskProgressEvent)
		return nil
	}))

	reporter := NewBusProgressReporter(bus)
	require.NoError(t, reporter.ReportProgress(context.Background(), "task-1", 4, "reinstall", 30, "OpenVPN already installed"))
	assert.Equal(t, 30, received.Progress)
}

func TestNoOpProgressReporter(t *testing.T) {
	reporter := NewNoOpProgressReporter()
	assert.NoError(t, reporter.ReportProgress(context.Background(), "task", 1, "install", 50, "msg"))
}
