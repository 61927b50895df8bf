package orchestrator

import (
	"log/slog"

	"github.com/webbook/contactbook/internal/platform/privacylog"
)

// EventKind discriminates the push-only notifications the façade dispatches
// to registered handlers (spec §6).
type EventKind string

const (
	EventContactAdded          EventKind = "contact_added"
	EventContactUpdated        EventKind = "contact_updated"
	EventContactRemoved        EventKind = "contact_removed"
	EventOwnCardUpdated        EventKind = "own_card_updated"
	EventMessageDelivered      EventKind = "message_delivered"
	EventMessageFailed         EventKind = "message_failed"
	EventConnectionStateChanged EventKind = "connection_state_changed"
)

// Event is one fire-and-forget notification. ChangedFields is only set for
// OwnCardUpdated.
type Event struct {
	Kind          EventKind
	ContactID     string
	ChangedFields []string
	Detail        string
}

// EventHandler receives dispatched events. A handler must not assume
// ordering relative to other handlers.
type EventHandler func(Event)

// dispatch calls every registered handler, recovering and logging any panic
// so a misbehaving handler never surfaces into the caller of the operation
// that triggered the event (spec §4.12: "Dispatch MUST not surface handler
// failures to callers").
func (o *Orchestrator) dispatch(ev Event) {
	for _, h := range o.handlers {
		o.invokeHandler(h, ev)
	}
}

func (o *Orchestrator) invokeHandler(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event handler panicked", "kind", ev.Kind, "recovered", r)
		}
	}()
	h(ev)
}

// OnEvent registers a handler invoked for every dispatched event. Handlers
// are never unregistered individually; construct a new Orchestrator to
// reset the handler list.
func (o *Orchestrator) OnEvent(h EventHandler) {
	o.handlers = append(o.handlers, h)
}

// defaultLogger wraps slog.Default()'s handler with privacylog's sanitizer
// so a host that never supplies its own Logger still never leaks raw
// contact/identity/device ids into its log stream.
func defaultLogger() *slog.Logger {
	return slog.New(privacylog.WrapHandler(slog.Default().Handler()))
}
