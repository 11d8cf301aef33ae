package security

import (
	"fmt"
	"strings"
	"time"

	"PTracker/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signature algorithm and TTL.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token lifetime for Generate (default 2h)
	Leeway time.Duration // clock skew tolerated by Verify
}

type JWTClaims struct {
	jwtlib.MapClaims
}

// Subject returns the "sub" claim, the user id of the token holder.
func (c *JWTClaims) Subject() string {
	sub, _ := c.MapClaims.GetSubject()
	return sub
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate signs a token for userID. Tokens are issued elsewhere in production;
// this exists for local runs and tests.
func Generate(opts Options, userID string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm family and time claims.
func Verify(opts Options, token string) (*JWTClaims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parserOpts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{method.Alg()})}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwtlib.WithLeeway(opts.Leeway))
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, errs.ErrUnauthenticated.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return nil, errs.ErrUnauthenticated.WrapMsg("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errs.ErrUnauthenticated.WrapMsg("claims type mismatch")
	}
	return &JWTClaims{claims}, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errs.ErrArgs.WrapMsg("unsupported alg (use HS256/HS384/HS512)", "alg", alg)
	}
}
