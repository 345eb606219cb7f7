package model

// EventKind categorizes protocol events emitted on commit.
type EventKind string

const (
	EventNewDevice       EventKind = "NewDevice"
	EventNewOrder        EventKind = "NewOrder"
	EventAccept          EventKind = "Accept"
	EventReject          EventKind = "Reject"
	EventDone            EventKind = "Done"
	EventStateChanged    EventKind = "StateChanged"
	EventDeviceClosed    EventKind = "DeviceClosed"
	EventMessageReceived EventKind = "MessageReceived"
	EventSendFailed      EventKind = "SendFailed"
)

// Event is one entry of the append-only event log.
//
// Seq comes from the engine's logical clock and is the only ordering key.
// Token correlates a local call with the events and messages it produced.
type Event struct {
	Seq    int64     `json:"seq"`
	Kind   EventKind `json:"kind"`
	Device AccountID `json:"device,omitempty"`
	Client AccountID `json:"client,omitempty"`
	Peer   DomainID  `json:"peer,omitempty"`
	Token  string    `json:"token,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// CanonicalMap converts the event to a map for canonical JSON. The token is
// excluded so traces stay comparable across runs.
func (e Event) CanonicalMap() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"kind": string(e.Kind),
	}
	if e.Device != "" {
		m["device"] = string(e.Device)
	}
	if e.Client != "" {
		m["client"] = string(e.Client)
	}
	if e.Peer != "" {
		m["peer"] = string(e.Peer)
	}
	if e.Detail != "" {
		m["detail"] = e.Detail
	}
	return m
}
