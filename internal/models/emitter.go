package models

// Emitter fans a domain change out to real-time subscribers.
type Emitter interface {
	Emit(event string, payload interface{})
}

// Standard event names emitted by domain services.
const (
	EmitCreated = "created"
	EmitUpdated = "updated"
)
