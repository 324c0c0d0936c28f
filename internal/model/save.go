package model

import (
	"encoding/hex"
	"strings"
	"time"
)

// Platform identifies the console family a save belongs to.
type Platform string

const (
	Platform3DS    Platform = "3DS"
	PlatformSwitch Platform = "Switch"
)

// Platforms lists every supported platform.
var Platforms = []Platform{Platform3DS, PlatformSwitch}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	for _, v := range Platforms {
		if p == v {
			return true
		}
	}
	return false
}

// ParsePlatform matches s case-insensitively against the supported platforms.
func ParsePlatform(s string) (Platform, bool) {
	for _, v := range Platforms {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// Column limits, mirrored by the table definitions.
const (
	ContentDigestLength = 32
	OwnerKeyLength      = 64
	MaxDisplayName      = 255
	MaxProductCode      = 32
)

// SaveRecord represents a row in the saves table.
type SaveRecord struct {
	ID            int64     `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	ContentDigest string    `json:"hash"`
	BlobLocation  string    `json:"-"`
	IsPrivate     bool      `json:"private"`
	ProductCode   *string   `json:"product_code,omitempty"`
	OwnerKey      string    `json:"-"`
	TitleID       *int64    `json:"title_id,omitempty"`
	Platform      Platform  `json:"type"`
	DisplayName   string    `json:"name"`
}

// OwnedBy reports whether ownerKey owns the record.
func (r *SaveRecord) OwnedBy(ownerKey string) bool {
	return r.OwnerKey == ownerKey
}

// SaveMetadata is the client-supplied part of a save record.
type SaveMetadata struct {
	ContentDigest string
	IsPrivate     bool
	ProductCode   *string
	TitleID       *int64
	Platform      Platform
	DisplayName   string
}

// Validate checks the metadata before anything is persisted.
func (m *SaveMetadata) Validate() error {
	const op = "validate metadata"

	if m.ContentDigest == "" {
		return InvalidInput(op, "hash", "content digest is required")
	}
	if !isHex(m.ContentDigest, ContentDigestLength) {
		return InvalidInput(op, "hash", "content digest must be 32 hex characters")
	}
	if strings.TrimSpace(m.DisplayName) == "" {
		return InvalidInput(op, "name", "display name is required")
	}
	if len(m.DisplayName) > MaxDisplayName {
		return InvalidInput(op, "name", "display name is too long")
	}
	// Title grouping is optional, the platform never is.
	if !m.Platform.Valid() {
		return InvalidInput(op, "type", "unsupported platform")
	}
	if m.ProductCode != nil && len(*m.ProductCode) > MaxProductCode {
		return InvalidInput(op, "product_code", "product code is too long")
	}
	if m.TitleID != nil && *m.TitleID < 0 {
		return InvalidInput(op, "title_id", "title id must not be negative")
	}
	return nil
}

// ValidateOwnerKey checks that key looks like a derived owner key.
func ValidateOwnerKey(key string) error {
	if !isHex(key, OwnerKeyLength) || strings.ToLower(key) != key {
		return InvalidInput("validate owner", "serial", "owner key must be 64 lowercase hex characters")
	}
	return nil
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
