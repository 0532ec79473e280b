package worker

import (
	"time"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/sync/metrics"
)

// EventType identifies a progress event.
type EventType string

const (
	EventJobCompleted      EventType = "job_completed"
	EventJobRetryScheduled EventType = "job_retry_scheduled"
	EventJobDeadLettered   EventType = "job_dead_lettered"
	EventBatchCompleted    EventType = "batch_completed"
)

// Event is published by workers as jobs move through the state machine.
// Subscribers consume without ever blocking job execution.
type Event struct {
	Type      EventType       `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	BatchID   string          `json:"batch_id,omitempty"`
	ProductID string          `json:"product_id,omitempty"`
	Platform  domain.Platform `json:"platform,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// Events returns the progress event stream.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// publish never blocks; when no subscriber keeps up the event is dropped
// and counted.
func (p *Pool) publish(e Event) {
	e.At = time.Now().UTC()
	select {
	case p.events <- e:
	default:
		metrics.EventsDropped.Inc()
	}
}
