// Package audit delivers key lifecycle and rotation events to an external
// sink on a best-effort basis. The reporter never blocks a primary
// operation: events flow through a bounded buffer and are dropped, with a
// metric, when the sink can not keep up.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/strongroomhq/strongroom/internal/logging"
	"github.com/strongroomhq/strongroom/metrics"
	"github.com/strongroomhq/strongroom/uid"
)

type Action string

const (
	KeyCreated        Action = "key.created"
	KeyActivated      Action = "key.activated"
	KeyRetired        Action = "key.retired"
	RotationStarted   Action = "rotation.started"
	RotationProgress  Action = "rotation.progress"
	RotationCompleted Action = "rotation.completed"
	RotationFailed    Action = "rotation.failed"
	StoredUnencrypted Action = "blob.stored_unencrypted"
)

type Event struct {
	Action    Action    `json:"action"`
	TenantID  uid.ID    `json:"tenant_id"`
	Actor     string    `json:"actor,omitempty"`
	ActorRole string    `json:"actor_role,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	KeyID     uid.ID    `json:"key_id,omitempty"`
	JobID     uid.ID    `json:"job_id,omitempty"`
	Processed int       `json:"processed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Sink receives events from the reporter's writer goroutine. Write failures
// are the sink's problem; the reporter does not retry.
type Sink interface {
	Write(event Event)
}

// LogSink writes events to the shared logger.
type LogSink struct{}

func (LogSink) Write(event Event) {
	logging.L.Info("audit",
		zap.String("action", string(event.Action)),
		zap.String("tenant", event.TenantID.String()),
		zap.String("actor", event.Actor),
		zap.Int("processed", event.Processed),
		zap.Int("total", event.Total),
	)
}

type Reporter struct {
	events chan Event
	sink   Sink
	done   chan struct{}
}

// NewReporter creates a reporter with a buffer of capacity events. Start
// must be called before events are delivered.
func NewReporter(sink Sink, capacity int) *Reporter {
	if capacity <= 0 {
		capacity = 256
	}
	return &Reporter{
		events: make(chan Event, capacity),
		sink:   sink,
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine. It drains remaining events and
// closes down when the context is cancelled.
func (r *Reporter) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case event := <-r.events:
				r.sink.Write(event)
			case <-ctx.Done():
				for {
					select {
					case event := <-r.events:
						r.sink.Write(event)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the writer goroutine has exited.
func (r *Reporter) Wait() {
	<-r.done
}

// Emit queues an event without blocking. When the buffer is full the event
// is dropped and counted.
func (r *Reporter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case r.events <- event:
	default:
		metrics.AuditEventsDropped.Inc()
		logging.S.Debugf("audit buffer full, dropped %v event", event.Action)
	}
}
