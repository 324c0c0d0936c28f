// Package identity derives owner keys from device serials.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"checkpoint-sync-api/internal/model"
)

// HeaderName is the request header carrying the device serial.
const HeaderName = "Serial"

// Derive returns the owner key for serial: the lowercase hex SHA-256 of the raw value.
func Derive(serial string) (string, error) {
	if strings.TrimSpace(serial) == "" {
		return "", model.InvalidInput("derive owner key", "serial", "serial is required")
	}
	sum := sha256.Sum256([]byte(serial))
	return hex.EncodeToString(sum[:]), nil
}

// MustDerive is Derive for known-good serials. It panics on empty input.
func MustDerive(serial string) string {
	key, err := Derive(serial)
	if err != nil {
		panic(err)
	}
	return key
}

// IsOwnerKey reports whether s has the shape of a derived owner key.
func IsOwnerKey(s string) bool {
	return model.ValidateOwnerKey(s) == nil
}
