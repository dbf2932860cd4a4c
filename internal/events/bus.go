// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (agent loop, tool executor,
// job runner, retry wrapper) to subscribers (WebSocket handler, job log
// writer). The bus is nil-safe: calling Publish on a nil *Bus is a no-op,
// so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceLoop identifies events from the agent loop.
	SourceLoop = "loop"
	// SourceTools identifies events from the tool executor and registry.
	SourceTools = "tools"
	// SourceRunner identifies events from the job runner.
	SourceRunner = "runner"
	// SourceRetry identifies events from the retry wrapper.
	SourceRetry = "retry"
	// SourceQueue identifies events from the queue worker.
	SourceQueue = "queue"
)

// Kind constants describe the type of event within a source.
const (
	// KindModelCall signals the start of a model API call.
	// Data: job_id, iteration, model.
	KindModelCall = "model_call"
	// KindModelResponse signals completion of a model API call.
	// Data: job_id, iteration, stop_reason, tool_calls, tokens_in, tokens_out.
	KindModelResponse = "model_response"
	// KindToolCall signals the start of a tool execution.
	// Data: job_id, tool, input.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: job_id, tool, ok, duration_ms, result or error.
	KindToolDone = "tool_done"
	// KindToolsLoaded signals the registry finished assembling tools.
	// Data: job_id, count, names, crm_fallback.
	KindToolsLoaded = "tools_loaded"
	// KindJobStart signals a job transitioned to running.
	// Data: job_id, entity_type, entity_id.
	KindJobStart = "job_start"
	// KindJobDone signals a job reached a terminal state.
	// Data: job_id, status, iterations, tool_calls, duration_ms.
	KindJobDone = "job_done"
	// KindRetryWait signals the retry wrapper is backing off.
	// Data: job_id, attempt, wait_seconds.
	KindRetryWait = "retry_wait"
	// KindDequeued signals the worker picked up a queued job.
	// Data: job_id.
	KindDequeued = "dequeued"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
