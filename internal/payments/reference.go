package payments

import "github.com/google/uuid"

// NewReferenceID returns a fresh, time-ordered reference for one purchase
// attempt. It is never reused.
func NewReferenceID() string {
	return "NP-" + uuid.Must(uuid.NewV7()).String()
}
