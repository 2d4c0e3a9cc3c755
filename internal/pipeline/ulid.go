package pipeline

import (
	"github.com/oklog/ulid/v2"
)

// NewJobID returns a fresh ULID. IDs from one process sort by creation time,
// including IDs made within the same millisecond.
func NewJobID() string {
	return ulid.Make().String()
}
