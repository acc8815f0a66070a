package chain

import "fmt"

// RequiredFields is a Schema accepting map payloads that carry every listed key.
type RequiredFields []string

func (r RequiredFields) Validate(payload interface{}) error {
	fields, ok := payload.(map[string]interface{})
	if !ok {
		return fmt.Errorf("payload is %T, not a map", payload)
	}
	for _, name := range r {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("payload misses the field %q", name)
		}
	}
	return nil
}
