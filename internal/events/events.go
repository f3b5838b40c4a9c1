// Package events provides an event stream for dispatch and worker notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventConnAccepted is emitted when the listener queues an accepted unit of work
	EventConnAccepted EventType = "conn_accepted"
	// EventConnRejected is emitted when the queue is full and the unit is rejected
	EventConnRejected EventType = "conn_rejected"
	// EventWorkerStarted is emitted when a worker goroutine enters its loop
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerStopped is emitted when a worker goroutine observes the stop flag and returns
	EventWorkerStopped EventType = "worker_stopped"
	// EventItemProcessed is emitted after a worker finished an item successfully
	EventItemProcessed EventType = "item_processed"
	// EventItemFailed is emitted when processing an item returned an error or panicked
	EventItemFailed EventType = "item_failed"
)

// Event represents a dispatch event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	SessionID  string `json:"session_id,omitempty"`
	Remote     string `json:"remote,omitempty"`
	QueueCount int    `json:"queue_count,omitempty"`
	Latency    string `json:"latency,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewConnAcceptedEvent creates an event for a unit that was queued
func NewConnAcceptedEvent(source, sessionID, remote string, queueCount int) Event {
	return Event{
		Type:      EventConnAccepted,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			SessionID:  sessionID,
			Remote:     remote,
			QueueCount: queueCount,
		},
	}
}

// NewConnRejectedEvent creates an event for a unit rejected by backpressure
func NewConnRejectedEvent(source, sessionID, remote string) Event {
	return Event{
		Type:      EventConnRejected,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			SessionID: sessionID,
			Remote:    remote,
		},
	}
}

// NewWorkerStartedEvent creates a worker start event
func NewWorkerStartedEvent(source string) Event {
	return Event{
		Type:      EventWorkerStarted,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// NewWorkerStoppedEvent creates a worker stop event
func NewWorkerStoppedEvent(source string) Event {
	return Event{
		Type:      EventWorkerStopped,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// NewItemProcessedEvent creates an event for a successfully processed item
func NewItemProcessedEvent(source string, latency time.Duration) Event {
	return Event{
		Type:      EventItemProcessed,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			Latency: latency.String(),
		},
	}
}

// NewItemFailedEvent creates an event for an item whose processing failed
func NewItemFailedEvent(source string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventItemFailed,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			Error: errMsg,
		},
	}
}
