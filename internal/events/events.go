// Package events normalizes event emission toward the embedding host. The
// host (desktop shell, scripted driver, tests) plugs in an Emitter; the rest
// of the backend never knows what is listening.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event names consumed by the host.
const (
	SandboxStatusEvent   = "sandbox_status"
	NewTransactionEvent  = "new_transaction"
	NewAPILogEvent       = "new-api-log"
	SettingsUpdatedEvent = "settings_updated"
)

// Emitter is the host interface: fire an event with a JSON-serializable
// payload to every listener.
type Emitter interface {
	EmitAll(eventName string, payload any) error
}

// LogEmitter logs every event; the default sink when no host is attached.
type LogEmitter struct{}

func (LogEmitter) EmitAll(eventName string, payload any) error {
	logrus.WithField("event", eventName).Debugf("emitting event: %+v", payload)
	return nil
}

var _ Emitter = LogEmitter{}

// Captured is one recorded event.
type Captured struct {
	Name    string
	Payload any
}

// CaptureEmitter records events in memory. Used by tests and by hosts that
// poll instead of subscribing.
type CaptureEmitter struct {
	mu     sync.Mutex
	events []Captured
}

func (e *CaptureEmitter) EmitAll(eventName string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Captured{Name: eventName, Payload: payload})
	return nil
}

// Events returns a snapshot of everything emitted so far.
func (e *CaptureEmitter) Events() []Captured {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Captured, len(e.events))
	copy(out, e.events)
	return out
}

// ByName filters the snapshot to one event name.
func (e *CaptureEmitter) ByName(eventName string) []Captured {
	var out []Captured
	for _, ev := range e.Events() {
		if ev.Name == eventName {
			out = append(out, ev)
		}
	}
	return out
}

var _ Emitter = (*CaptureEmitter)(nil)
