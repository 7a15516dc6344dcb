package core

import (
	"context"
	"time"
)

// EventType identifies a pipeline event.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"
	EventStageStarted      EventType = "stage.started"
	EventStageCompleted    EventType = "stage.completed"
	EventStageDegraded     EventType = "stage.degraded"
	EventStageFailed       EventType = "stage.failed"
)

// Event captures one pipeline event.
type Event struct {
	Type      EventType      `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventEmitter receives pipeline events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter drops every event.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EmitterFunc adapts a function into an EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, stage, requestID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Stage:     stage,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
