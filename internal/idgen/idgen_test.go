package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDIsValidUUID(t *testing.T) {
	id := NewID()
	assert.True(t, Valid(id))
}

func TestNewIDIsUnique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}

func TestNewShortIDIsUnique(t *testing.T) {
	assert.NotEqual(t, NewShortID(), NewShortID())
}

func TestValidRejectsGarbage(t *testing.T) {
	assert.False(t, Valid("not-a-uuid"))
}
