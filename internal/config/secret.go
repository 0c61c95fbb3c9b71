package config

import "encoding/json"

const redacted = "***REDACTED***"

// SecretString is a credential that never prints or serialises its value.
// Call Unmask when the raw value is needed for an outbound request.
type SecretString string

func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s SecretString) GoString() string {
	return s.String()
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Unmask returns the underlying value.
func (s SecretString) Unmask() string {
	return string(s)
}
