package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	t.Run("with key", func(t *testing.T) {
		err := &NotFoundError{Resource: "technology", Key: "django"}
		assert.Equal(t, `technology "django" not found`, err.Error())
	})

	t.Run("without key", func(t *testing.T) {
		err := &NotFoundError{Resource: "api key"}
		assert.Equal(t, "api key not found", err.Error())
	})
}

func TestIsNotFound(t *testing.T) {
	nf := &NotFoundError{Resource: "protocol", Key: "p1"}

	assert.True(t, IsNotFound(nf))
	assert.True(t, IsNotFound(fmt.Errorf("fetch: %w", nf)))
	assert.False(t, IsNotFound(fmt.Errorf("connection refused")))
	assert.False(t, IsNotFound(nil))
}
