package location

import (
	"sync"
	"time"

	"PTracker/tools/errs"
	"PTracker/tools/security"
)

// StaticIdentity is a fixed signed-in user, for single-user devices and tests.
type StaticIdentity string

func (s StaticIdentity) CurrentUserID() (string, bool) { return string(s), s != "" }

// TokenIdentity takes its user from an externally issued JWT. It never issues
// or refreshes tokens; an expired token reads as signed out.
type TokenIdentity struct {
	opts security.Options
	now  func() time.Time

	mu    sync.RWMutex
	sub   string
	token string
	exp   time.Time
}

func NewTokenIdentity(opts security.Options) *TokenIdentity {
	return &TokenIdentity{opts: opts, now: time.Now}
}

// SignIn verifies token and adopts its subject.
func (t *TokenIdentity) SignIn(token string) error {
	claims, err := security.Verify(t.opts, token)
	if err != nil {
		return err
	}
	sub := claims.Subject()
	if sub == "" {
		return errs.ErrUnauthenticated.WrapMsg("token has no subject")
	}
	var exp time.Time
	if e, err := claims.GetExpirationTime(); err == nil && e != nil {
		exp = e.Time
	}
	t.mu.Lock()
	t.sub, t.token, t.exp = sub, token, exp
	t.mu.Unlock()
	return nil
}

func (t *TokenIdentity) SignOut() {
	t.mu.Lock()
	t.sub, t.token, t.exp = "", "", time.Time{}
	t.mu.Unlock()
}

func (t *TokenIdentity) CurrentUserID() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sub == "" {
		return "", false
	}
	if !t.exp.IsZero() && !t.now().Before(t.exp.Add(t.opts.Leeway)) {
		return "", false
	}
	return t.sub, true
}

// Verify checks a bearer token against the signing options and returns its
// subject. Used by the HTTP transport.
func (t *TokenIdentity) Verify(token string) (string, error) {
	claims, err := security.Verify(t.opts, token)
	if err != nil {
		return "", err
	}
	return claims.Subject(), nil
}
