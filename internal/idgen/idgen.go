// ABOUTME: Short unique ID generation for sessions, backed by nanoid
// ABOUTME: IDs look like "ses-x7k2mf9qp3", URL-safe and log-friendly

// Package idgen generates short, URL-safe unique identifiers.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// SessionPrefix is prepended to session identifiers.
const SessionPrefix = "ses-"

// Alphabet is the character set for the random portion of an ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters after the prefix.
const Length = 10

// NewSessionID returns a fresh session identifier.
func NewSessionID() (string, error) {
	return NewWithPrefix(SessionPrefix)
}

// NewWithPrefix returns a fresh identifier with the given prefix.
func NewWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
