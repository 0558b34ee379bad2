package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := NewError(KindNotFound, "get_tool", "tool %q not found", "x")
	assert.Equal(t, `get_tool: tool "x" not found`, err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrDisabled)

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindNotFound))

	cause := errors.New("connection refused")
	upstream := WrapError(KindUpstreamError, "execute", cause, "request failed")
	assert.ErrorIs(t, upstream, cause)
	assert.Contains(t, upstream.Error(), "connection refused")

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.False(t, IsKind(nil, KindInternal))
	assert.Equal(t, "timeout", (&Error{Kind: KindTimeout}).Error())
}

func TestErrorResponse(t *testing.T) {
	resp := NewErrorResponse(NewError(KindAlreadyExists, "install", "duplicate"))
	assert.False(t, resp.Success)
	assert.Equal(t, KindAlreadyExists, resp.ErrorKind)

	ok := NewSuccessResponse(map[string]int{"n": 1})
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)
}
