package alerts

import (
	"context"
	"sync"
)

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	admin  []AdminAlertPayload
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) AdminAlert(_ context.Context, actorID, severity, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admin = append(r.admin, AdminAlertPayload{ActorID: actorID, Severity: severity, Message: message})
	return nil
}

// Events returns a copy of the events published so far, optionally only
// those of the given type.
func (r *Recorder) Events(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if typ == "" || ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) AdminAlerts() []AdminAlertPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AdminAlertPayload(nil), r.admin...)
}
