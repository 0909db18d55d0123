package sseresume

// DefaultEventType is the logical event type used for inbound frames whose
// payload does not carry a type of its own.
const DefaultEventType = "message"

// Event holds data for a single event in the SSE stream.
type Event struct {
	// ID is the sequence number assigned by History.Admit. Events that
	// were not yet admitted to a stream have ID set to zero. Sequence
	// numbers are strictly increasing and never reused within a single
	// History instance.
	ID uint64

	// Event is the logical event type name. On the wire it is carried
	// inside the JSON body of the data field, not as a separate SSE
	// event field.
	Event string

	// Data is the application payload, marshaled to JSON when the event
	// is written to the wire.
	Data interface{}
}

// wireBody is the JSON document carried in the data field of a single SSE
// frame.
type wireBody struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}
