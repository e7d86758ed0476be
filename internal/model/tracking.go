package model

// MessageTrackingOptions is copied onto every outgoing message; adapters
// translate it to their provider's flags.
type MessageTrackingOptions struct {
	Open  bool `json:"open"`
	Click bool `json:"click"`
}
