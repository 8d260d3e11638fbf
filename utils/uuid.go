package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a new time-ordered (version 7) UUID string, so IDs of
// bids accepted later sort after earlier ones.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
