package config

const redacted = "[REDACTED]"

// Secret holds a credential such as the oracle API key or an alert webhook.
// Every printing and marshaling path redacts it; Reveal returns the value.
type Secret string

// Reveal returns the raw value for the component that needs it
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v output redacted
func (s Secret) GoString() string {
	return `"` + s.String() + `"`
}

// MarshalYAML redacts secrets in Config.String and dumped configs
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// MarshalJSON redacts secrets in job reports and journal entries
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
