package task

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Wraps(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindTool, "tool failed", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "ToolError")
	assert.Contains(t, err.Error(), "tool failed")
	assert.Contains(t, err.Error(), "boom")
}

func TestError_IsMatchesByKindNotMessage(t *testing.T) {
	err1 := ValidationError("bad input: %s", "x")
	err2 := ValidationError("different message")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, ToolError("x")))
}

func TestIsKind_MatchesWrappedError(t *testing.T) {
	inner := TimeoutError("tool exceeded deadline")
	wrapped := fmt.Errorf("step failed: %w", inner)

	assert.True(t, IsKind(wrapped, KindTimeout))
	assert.False(t, IsKind(wrapped, KindValidation))
}

func TestIsKind_NonTaskErrorReturnsFalse(t *testing.T) {
	assert.False(t, IsKind(errors.New("plain error"), KindInternal))
}

func TestConvenienceConstructors_SetExpectedKind(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
	}{
		{ValidationError("x"), KindValidation},
		{ToolError("x"), KindTool},
		{TimeoutError("x"), KindTimeout},
		{DependencyError("x"), KindDependency},
		{CancelledError("x"), KindCancelled},
		{InternalError("x"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, c.err.Kind)
	}
}
