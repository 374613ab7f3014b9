package intervals

import "fmt"

// InvalidInputError reports a sample batch the extractor cannot process.
// Index is the position of the offending sample in the input, or -1 when the
// problem spans a whole group.
type InvalidInputError struct {
	Index  int
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Index < 0 {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: sample %d: %s", e.Index, e.Reason)
}
