package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier, e.g. "sale-7c9e6679-...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// IdempotencyKey returns a token that stays attached to a sale for its whole
// life, including every replay from the offline queue.
func IdempotencyKey() string {
	return uuid.NewString()
}
