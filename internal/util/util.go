package util

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewOperationID returns a prefixed ULID. IDs made in the same millisecond
// are monotonic, so journal rows and notifications sort in creation order.
func NewOperationID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
