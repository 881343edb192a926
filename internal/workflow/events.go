package workflow

import "github.com/xprocessing/neoaigc/internal/domain"

// EventKind names a user-visible workflow transition.
type EventKind string

const (
	EventSubmitted      EventKind = "submitted"
	EventSucceeded      EventKind = "succeeded"
	EventFailed         EventKind = "failed"
	EventLoginRequired  EventKind = "login_required"
	EventBatchSubmitted EventKind = "batch_submitted"
	EventSaved          EventKind = "saved"
)

// Event is delivered to the EventSink in the order things happen.
type Event struct {
	Kind      EventKind
	Modality  domain.Modality
	JobID     string
	JobIDs    []string
	ResultURL string
	Reason    string
	Path      string
}

// EventSink receives workflow events. Implementations must not block for long.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Publish(Event) {}
