// Package canonjson produces a canonical JSON encoding and a SHA-256
// content digest over it. Two values with the same logical content yield
// the same digest regardless of struct field order, map iteration order,
// or insignificant whitespace in the input.
//
// Canonical form: the value is marshaled with encoding/json, decoded back
// into generic maps, and re-marshaled. encoding/json sorts map keys, so
// the second pass produces byte-stable output. Numbers are carried as
// json.Number through the round trip to avoid float formatting drift.
package canonjson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}

	return canonicalize(raw)
}

// MarshalRaw canonicalizes an already-encoded JSON document.
func MarshalRaw(raw []byte) ([]byte, error) {
	return canonicalize(raw)
}

// Digest returns the hex-encoded SHA-256 of the canonical encoding of v.
func Digest(v any) (string, error) {
	canon, err := Marshal(v)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canon)

	return hex.EncodeToString(sum[:]), nil
}

// DigestRaw returns the hex-encoded SHA-256 of the canonical form of an
// already-encoded JSON document.
func DigestRaw(raw []byte) (string, error) {
	canon, err := canonicalize(raw)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canon)

	return hex.EncodeToString(sum[:]), nil
}

// canonicalize decodes raw JSON into generic form and re-encodes it.
// The generic decode turns every object into a map[string]any, and
// encoding/json emits map keys in sorted order.
func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decoding JSON for canonicalization: %w", err)
	}

	// Reject trailing garbage after the first document.
	if dec.More() {
		return nil, fmt.Errorf("canonicalizing JSON: trailing data after document")
	}

	canon, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-encoding canonical JSON: %w", err)
	}

	return canon, nil
}
