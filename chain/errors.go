package chain

import "fmt"

// ConstructionError is returned when a binding would break the linear chain.
type ConstructionError struct {
	Job    string
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("chain: job %q: %s", e.Job, e.Reason)
}
