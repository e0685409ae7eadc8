// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of governance artifacts.
//
// Evidence hashes computed here are tamper-evidence, not deduplication:
// the producing timestamp participates in the hash, so identical inputs
// hashed at different times yield different digests.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// Map keys are sorted by UTF-8 bytes and HTML escaping is disabled.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalHash returns the SHA-256 digest of the canonical JSON form of v,
// prefixed with the algorithm identifier.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// EvidenceHash computes the one-way hash over (inputs, outputs, timestamp).
// The timestamp is serialized at millisecond precision in UTC so the hash is
// reproducible from the stored audit record alone.
func EvidenceHash(inputs, outputs map[string]interface{}, ts time.Time) (string, error) {
	tuple := struct {
		Inputs    map[string]interface{} `json:"inputs"`
		Outputs   map[string]interface{} `json:"outputs"`
		Timestamp string                 `json:"timestamp"`
	}{
		Inputs:    inputs,
		Outputs:   outputs,
		Timestamp: ts.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	return CanonicalHash(tuple)
}
