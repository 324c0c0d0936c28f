// Package uid generates opaque unique identifiers for request IDs and cache generations.
package uid

import "github.com/google/uuid"

// New generates a new random (version 4) identifier.
func New() string {
	return uuid.New().String()
}

// IsValid reports whether id is a UUID in canonical 36-character form.
func IsValid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
