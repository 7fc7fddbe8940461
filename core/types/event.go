package types

// Event is the flattened, transport-friendly form of a ledger event.
// OperationID and Height are stamped by the host after the operation commits.
type Event struct {
	Type        string            `json:"type"`
	OperationID string            `json:"operationId,omitempty"`
	Height      uint64            `json:"height,omitempty"`
	Attributes  map[string]string `json:"attributes"`
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
