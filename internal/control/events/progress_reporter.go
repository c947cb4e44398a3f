package events

import "context"

// ProgressReporter lets workflows report task progress without coupling to
// the event bus implementation. Calls are fire-and-forget.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, taskID string, serverID int64, command string, progress int, message string) error
}

// NoOpProgressReporter is a progress reporter that does nothing.
// Useful for testing or when progress reporting is not needed.
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) ReportProgress(ctx context.Context, taskID string, serverID int64, command string, progress int, message string) error {
	return nil
}

// NewNoOpProgressReporter creates a new no-op progress reporter
func NewNoOpProgressReporter() ProgressReporter {
	return &NoOpProgressReporter{}
}

// BusProgressReporter implements ProgressReporter on the event bus
type BusProgressReporter struct {
	bus *Bus
}

// NewBusProgressReporter creates a bus-backed progress reporter
func NewBusProgressReporter(bus *Bus) ProgressReporter {
	return &BusProgressReporter{bus: bus}
}

func (r *BusProgressReporter) ReportProgress(ctx context.Context, taskID string, serverID int64, command string, progress int, message string) error {
	return r.bus.PublishTaskProgress(taskID, serverID, command, progress, message)
}
