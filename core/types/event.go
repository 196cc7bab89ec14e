package types

// Event is a typed notification emitted by a state transition. Attributes hold
// string-encoded payload fields so downstream consumers (RPC, indexers, logs)
// can stay schema-free.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
