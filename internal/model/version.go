package model

// Version constants for the wire format and engine.
const (
	// WireVersion is the cross-domain message format version.
	WireVersion = 1

	// EngineVersion is the xchange engine version.
	EngineVersion = "0.1.0"
)
