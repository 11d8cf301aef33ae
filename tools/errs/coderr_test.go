package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorIs(t *testing.T) {
	err := ErrNotFound.WrapMsg("user missing", "id", "u1")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrArgs))
	assert.Equal(t, NotFoundError, Code(err))
	assert.Contains(t, err.Error(), "id=u1")
}

func TestOfflineIsRemoteUnavailable(t *testing.T) {
	err := ErrOffline.Wrap()

	assert.True(t, errors.Is(err, ErrOffline))
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
	assert.False(t, errors.Is(ErrRemoteUnavailable.Wrap(), ErrOffline))
}

func TestWithDetailDoesNotMutate(t *testing.T) {
	e := ErrArgs.WithDetail("bad code")

	assert.Equal(t, "bad code", e.Detail)
	assert.Empty(t, ErrArgs.Detail)
	assert.Equal(t, "1001 ArgsError bad code", e.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil))
	assert.NoError(t, WrapMsg(nil, "x"))
}

func TestWrapMsgKeepsCause(t *testing.T) {
	err := WrapMsg(ErrNotFound, "read", "coll", "users")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "coll=users")
}

func TestCodeRelationAdd(t *testing.T) {
	r := newCodeRelation()

	require.Error(t, r.Add(1))
	require.NoError(t, r.Add(1, 2, 3))
	assert.True(t, r.Is(1, 3))
	assert.True(t, r.Is(2, 3))
	assert.False(t, r.Is(3, 1))
}

func TestErrPanic(t *testing.T) {
	assert.NoError(t, ErrPanic(nil))

	err := ErrPanic("boom")
	assert.True(t, errors.Is(err, ErrInternal))
	assert.Contains(t, err.Error(), "boom")
}
