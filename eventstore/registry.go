package eventstore

import (
	"fmt"
	"reflect"
)

// Registry maps an event's registered type name (the EventType string
// stored alongside each envelope) to the concrete Go type its payload
// should decode into. A serializing backend (eventstore/kurrentdb)
// consults it to turn a generic JSON blob back into the right struct;
// the in-memory store never serializes, so it doesn't need one.
type Registry struct {
	types map[string]reflect.Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register associates eventType with the concrete type of sample (a
// zero value of the payload struct, not a pointer).
func (r *Registry) Register(eventType string, sample any) {
	r.types[eventType] = reflect.TypeOf(sample)
}

// New allocates a zero value of the type registered for eventType,
// returned as a pointer so json.Unmarshal can populate it.
func (r *Registry) New(eventType string) (any, error) {
	t, ok := r.types[eventType]
	if !ok {
		return nil, fmt.Errorf("eventstore: no payload type registered for event type %q", eventType)
	}
	return reflect.New(t).Interface(), nil
}

// TypeNameOf returns the event type name a payload was registered
// under, by matching its runtime type. Nothing in the framework calls
// it: aggregate.Scope.Emit takes the event type name from its caller.
func (r *Registry) TypeNameOf(payload any) (string, bool) {
	t := reflect.TypeOf(payload)
	for name, registered := range r.types {
		if registered == t {
			return name, true
		}
	}
	return "", false
}
