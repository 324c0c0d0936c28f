// Package blob stores uploaded save payloads outside the relational store.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned by Open when no blob exists at a location.
var ErrNotFound = errors.New("blob not found")

// Store persists save payloads under collision-resistant names.
// Locations returned by Put are opaque to callers.
type Store interface {
	// Put writes data in one operation and returns its location.
	Put(ctx context.Context, displayName string, data []byte) (string, error)

	// Open returns a reader for the blob at location.
	Open(ctx context.Context, location string) (io.ReadCloser, error)

	// Delete removes the blob at location. Missing blobs are not an error.
	Delete(ctx context.Context, location string) error

	// List returns every stored blob.
	List(ctx context.Context) ([]Info, error)
}

// Info describes a stored blob.
type Info struct {
	Location string
	Size     int64
	ModTime  time.Time
}

const (
	maxNameBytes = 128
	fallbackName = "save"

	// suffixLayout is RFC 3339 in UTC with nanoseconds and no colons.
	suffixLayout = "2006-01-02T15-04-05.000000000Z"

	// maxNameAttempts bounds retries when a generated name is already taken.
	maxNameAttempts = 5
)

// SanitizeName turns a client display name into a single safe file name component.
func SanitizeName(displayName string) string {
	s := strings.ReplaceAll(displayName, `\`, "/")

	parts := make([]string, 0, 4)
	for _, seg := range strings.Split(s, "/") {
		seg = strings.Map(func(r rune) rune {
			if r < 0x20 || r == 0x7f || strings.ContainsRune(`:*?"<>|`, r) {
				return -1
			}
			return r
		}, seg)
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		parts = append(parts, seg)
	}

	name := strings.TrimLeft(strings.Join(parts, "_"), ".")
	name = truncate(name, maxNameBytes)
	if name == "" {
		return fallbackName
	}
	return name
}

// Name builds the stored name for displayName at instant now.
func Name(displayName string, now time.Time) string {
	return SanitizeName(displayName) + "_" + now.UTC().Format(suffixLayout)
}

// validLocation reports whether location is a bare name this package could have produced.
func validLocation(location string) bool {
	if location == "" || location == "." || location == ".." {
		return false
	}
	return !strings.ContainsAny(location, `/\:`)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
