package agent

import "fmt"

// BoundExceededError reports that the iteration cap was reached before
// the model produced a final answer. The partial history stays intact
// on the loop for inspection.
type BoundExceededError struct {
	Iterations int
}

func (e *BoundExceededError) Error() string {
	return fmt.Sprintf("agent loop exceeded %d iterations without a final answer", e.Iterations)
}
