// Package canonical provides the deterministic JSON serialization used for
// every hash the kernel computes. Two semantically equal values must produce
// identical bytes, regardless of map ordering or struct field order.
//
// The encoding is RFC 8785 (JSON Canonicalization Scheme): keys sorted by
// UTF-16 code units, no insignificant whitespace, ES6 number formatting, no
// HTML escaping. Any change to these rules is a breaking change and requires
// bumping Version, which is pinned in the DCL config lock.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Version identifies the canonicalization rules. Recorded in dcl-config.json
// as canonicalization_version; a mismatch fails integrity verification.
const Version = "jcs-1"

// Marshal returns the canonical JSON bytes of v.
//
// v is first marshaled with encoding/json (struct tags are respected, NaN and
// ±Inf are rejected), then transformed to RFC 8785 form. Arbitrary-precision
// numeric intent must be carried as strings or json.Number by the caller.
func Marshal(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MustHash is Hash for values known to be serializable (maps and structs of
// plain JSON types). It panics on error and is only for internal payloads the
// kernel builds itself.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// NormalizeTime renders t as UTC ISO-8601 with a Z suffix. All timestamps the
// kernel persists go through this so that hashed snapshots are stable across
// host timezones.
func NormalizeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
