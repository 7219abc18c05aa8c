package utils

import "github.com/google/uuid"

// GenerateID mints a fresh record id. Models assign ids here so the caller
// knows them before the insert returns.
func GenerateID() string {
	return uuid.New().String()
}

// IsUUID reports whether s parses as a UUID, e.g. for validating incoming
// record ids and pagination cursors.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
