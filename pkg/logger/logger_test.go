package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	dev, err := New(true)
	require.NoError(t, err)
	assert.NotNil(t, dev)

	prod, err := New(false)
	require.NoError(t, err)
	assert.NotNil(t, prod)
	assert.NotSame(t, dev, prod, "each call builds its own logger")
}
