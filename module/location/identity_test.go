package location

import (
	"errors"
	"testing"
	"time"

	"PTracker/tools/errs"
	"PTracker/tools/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticIdentity(t *testing.T) {
	id, ok := StaticIdentity("u1").CurrentUserID()
	assert.True(t, ok)
	assert.Equal(t, "u1", id)

	_, ok = StaticIdentity("").CurrentUserID()
	assert.False(t, ok)
}

func TestTokenIdentity(t *testing.T) {
	opts := security.DefaultOptions([]byte("secret"))
	ti := NewTokenIdentity(opts)
	_, ok := ti.CurrentUserID()
	assert.False(t, ok)

	tok, exp, err := security.Generate(opts, "u42")
	require.NoError(t, err)
	require.NoError(t, ti.SignIn(tok))
	id, ok := ti.CurrentUserID()
	assert.True(t, ok)
	assert.Equal(t, "u42", id)

	ti.now = func() time.Time { return exp.Add(time.Minute) }
	_, ok = ti.CurrentUserID()
	assert.False(t, ok)

	ti.now = time.Now
	ti.SignOut()
	_, ok = ti.CurrentUserID()
	assert.False(t, ok)
}

func TestTokenIdentityRejectsForeignToken(t *testing.T) {
	ti := NewTokenIdentity(security.DefaultOptions([]byte("secret")))
	tok, _, err := security.Generate(security.DefaultOptions([]byte("other")), "u1")
	require.NoError(t, err)

	assert.True(t, errors.Is(ti.SignIn(tok), errs.ErrUnauthenticated))
	_, err = ti.Verify(tok)
	assert.True(t, errors.Is(err, errs.ErrUnauthenticated))
}
