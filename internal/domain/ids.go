// internal/domain/ids.go
package domain

import "github.com/google/uuid"

// NewID returns a UUIDv7 string: a millisecond timestamp prefix followed by
// random bits, so identifiers sort by creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
