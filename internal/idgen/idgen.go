// Package idgen centralizes the two identifier shapes used across chatforge:
// UUIDs for rows that are referenced externally (chats, messages, assistants)
// and short opaque ids for things that only need to be unique, not guessable-resistant
// (generation traces).
package idgen

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// NewID returns a new random UUID (v4) string, used for Chat/Message/Assistant/FileUpload ids.
func NewID() string {
	return uuid.NewString()
}

// NewShortID returns a short, URL-safe unique id, used for generation trace ids.
func NewShortID() string {
	return shortuuid.New()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
