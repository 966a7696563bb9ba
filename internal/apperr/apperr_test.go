package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := AdminTransferRequired("promote a successor first")
	assert.Equal(t, CodeAdminTransferRequired, CodeOf(err))
	assert.True(t, Is(err, CodeAdminTransferRequired))

	wrapped := fmt.Errorf("leave group: %w", err)
	assert.Equal(t, CodeAdminTransferRequired, CodeOf(wrapped), "codes survive wrapping")

	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("insert message", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodePersistence, CodeOf(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Busy("locked")))
	assert.False(t, Retryable(NotAMember("nope")))
}
