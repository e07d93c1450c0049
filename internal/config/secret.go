package config

const redactedPlaceholder = "[REDACTED]"

// Secret holds a credential that must never appear in logs, config
// dumps, or serialized state. Every textual rendering produces a
// placeholder; only Reveal returns the raw value.
type Secret string

// Reveal returns the underlying credential for wire use.
func (s Secret) Reveal() string { return string(s) }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

// GoString keeps %#v output safe.
func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"` + redactedPlaceholder + `"`
}

// MarshalYAML keeps re-serialized config safe.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return redactedPlaceholder, nil
}

// MarshalJSON keeps JSON-encoded config safe.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redactedPlaceholder + `"`), nil
}
