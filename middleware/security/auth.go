package security

import (
	"strings"

	"PTracker/tools"
	"PTracker/tools/errs"

	"github.com/gin-gonic/gin"
)

// —— context key ——
const (
	PPCtxAuthKey = "authorization" // string, raw token
	PPCtxUserKey = "userID"        // string, verified subject
)

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	// QueryToken is read when no header carries a token; browsers cannot set
	// headers on a websocket upgrade.
	QueryToken string // 默认 "token"

	// Verify returns the subject of a valid token.
	Verify func(token string) (string, error)
	// Expect is the signed-in user; a token for anyone else is refused.
	// Nil accepts any verified subject.
	Expect func() (string, bool)
}

func DefaultOptions(verify func(string) (string, error), expect func() (string, bool)) *Options {
	return &Options{
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
		QueryToken:                "token",
		Verify:                    verify,
		Expect:                    expect,
	}
}

// Token extracts the request token, or "".
func (o *Options) Token(c *gin.Context) string {
	token := strings.TrimSpace(c.GetHeader(o.HeaderToken))

	// 兼容 Authorization: Bearer xxx
	if o.EnableAuthorizationBearer {
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		} else if token == "" {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if token == "" && o.QueryToken != "" {
		token = strings.TrimSpace(c.Query(o.QueryToken))
	}
	return token
}

func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := opts.Token(c)
		if token == "" {
			abort(c, errs.ErrUnauthenticated.WrapMsg("missing token"))
			return
		}
		sub, err := opts.Verify(token)
		if err != nil {
			abort(c, err)
			return
		}
		if opts.Expect != nil {
			if want, ok := opts.Expect(); !ok || want != sub {
				abort(c, errs.ErrUnauthenticated.WrapMsg("token is not for the signed-in user"))
				return
			}
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxUserKey, sub)
		c.Next()
	}
}

// UserID returns the subject set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserKey)
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(tools.HTTPStatus(err), tools.Fail(err))
}
