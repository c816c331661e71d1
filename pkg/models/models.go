package models

// MessageType defines the type of message (success, error, warning)
type MessageType string

const (
	MessageSuccess MessageType = "success"
	MessageError   MessageType = "error"
	MessageWarning MessageType = "warning"
)

// Message represents user feedback returned by the front end
type Message struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text"`
	Field string      `json:"field,omitempty"`
}

// Theme is the colour scheme selected for the session
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Constants for limits
const (
	MaxImportSize        = 1 << 20 // 1MB
	MaxProjectNameLength = 100
	MaxRunHistory        = 1000
	MaxSweepPoints       = 2000
	RateLimit            = 120 // requests per minute
	RateBurst            = 60  // burst capacity

	DefaultOrbitPeriodS = 5400.0 // ~90 min LEO
)
