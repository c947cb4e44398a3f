package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gookit/event"
)

// Bus wraps the gookit event manager for control plane events
type Bus struct {
	bus    *event.Manager
	logger *slog.Logger
}

// NewBus creates a new event bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		bus:    event.NewManager("ovpn-control"),
		logger: logger,
	}
}

// PublishTaskStarted publishes a task started event
func (b *Bus) PublishTaskStarted(taskID string, serverID int64, command string) error {
	payload := TaskStartedEvent{
		TaskID:    taskID,
		ServerID:  serverID,
		Command:   command,
		Timestamp: time.Now(),
	}

	b.logger.Debug("publishing task started event",
		slog.String("task_id", taskID),
		slog.String("command", command))

	err, _ := b.bus.Fire(EventTaskStarted, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish task started event: %w", err)
	}
	return nil
}

// PublishTaskProgress publishes a task progress event
func (b *Bus) PublishTaskProgress(taskID string, serverID int64, command string, progress int, message string) error {
	payload := TaskProgressEvent{
		TaskID:    taskID,
		ServerID:  serverID,
		Command:   command,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now(),
	}

	b.logger.Debug("publishing task progress event",
		slog.String("task_id", taskID),
		slog.Int("progress", progress),
		slog.String("message", message))

	err, _ := b.bus.Fire(EventTaskProgress, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish task progress event: %w", err)
	}
	return nil
}

// PublishTaskCompleted publishes a task completed event
func (b *Bus) PublishTaskCompleted(taskID string, serverID int64, command string, duration time.Duration) error {
	payload := TaskCompletedEvent{
		TaskID:    taskID,
		ServerID:  serverID,
		Command:   command,
		Duration:  duration,
		Timestamp: time.Now(),
	}

	b.logger.Info("publishing task completed event",
		slog.String("task_id", taskID),
		slog.String("command", command),
		slog.Duration("duration", duration))

	err, _ := b.bus.Fire(EventTaskCompleted, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish task completed event: %w", err)
	}
	return nil
}

// PublishTaskFailed publishes a task failed event
func (b *Bus) PublishTaskFailed(taskID string, serverID int64, command, errorMsg string, progress int) error {
	payload := TaskFailedEvent{
		TaskID:    taskID,
		ServerID:  serverID,
		Command:   command,
		Error:     errorMsg,
		Progress:  progress,
		Timestamp: time.Now(),
	}

	b.logger.Error("publishing task failed event",
		slog.String("task_id", taskID),
		slog.String("command", command),
		slog.String("error", errorMsg))

	err, _ := b.bus.Fire(EventTaskFailed, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish task failed event: %w", err)
	}
	return nil
}

// PublishServerStatusChanged publishes a server status changed event
func (b *Bus) PublishServerStatusChanged(serverID int64, previousStatus, newStatus, reason string) error {
	payload := ServerStatusChangedEvent{
		ServerID:       serverID,
		PreviousStatus: previousStatus,
		NewStatus:      newStatus,
		Reason:         reason,
		Timestamp:      time.Now(),
	}

	b.logger.Info("publishing server status changed event",
		slog.Int64("server_id", serverID),
		slog.String("previous_status", previousStatus),
		slog.String("new_status", newStatus))

	err, _ := b.bus.Fire(EventServerStatusChanged, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish server status changed event: %w", err)
	}
	return nil
}

// PublishServerRegistered publishes a server registered event
func (b *Bus) PublishServerRegistered(serverID int64, name, host string) error {
	payload := ServerRegisteredEvent{ServerID: serverID, Name: name, Host: host, Timestamp: time.Now()}

	err, _ := b.bus.Fire(EventServerRegistered, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish server registered event: %w", err)
	}
	return nil
}

// PublishClientCreated publishes a client created event
func (b *Bus) PublishClientCreated(serverID int64, name string) error {
	payload := ClientCreatedEvent{ServerID: serverID, Name: name, Timestamp: time.Now()}

	err, _ := b.bus.Fire(EventClientCreated, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish client created event: %w", err)
	}
	return nil
}

// PublishClientRevoked publishes a client revoked event
func (b *Bus) PublishClientRevoked(serverID int64, name string) error {
	payload := ClientRevokedEvent{ServerID: serverID, Name: name, Timestamp: time.Now()}

	err, _ := b.bus.Fire(EventClientRevoked, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish client revoked event: %w", err)
	}
	return nil
}

// Subscribe registers a listener for an event name
func (b *Bus) Subscribe(name string, listener event.Listener) {
	b.bus.On(name, listener, event.Normal)
	b.logger.Debug("subscribed to events", slog.String("event", name))
}

// Close gracefully shuts down the event bus
func (b *Bus) Close() error {
	b.logger.Debug("closing event bus")
	b.bus.Clear()
	return nil
}
