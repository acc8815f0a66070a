package codec

import "fmt"

// EncodeError is returned when a value has no encoding, either because it is
// not a canonical payload type or because no handler matches it.
type EncodeError struct {
	Value  interface{}
	Reason string
}

func (e *EncodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("codec: can't encode %T: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("codec: no encoder for %T", e.Value)
}

// DecodeError is returned when a tagged value can't be turned back into a payload.
type DecodeError struct {
	Tag    Tag
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: can't decode %q value: %s", e.Tag, e.Reason)
}

// LoadError is returned when a configured encoder name is unknown to the registry.
type LoadError struct {
	Kind string
	Name string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("codec: unknown %s %q", e.Kind, e.Name)
}
