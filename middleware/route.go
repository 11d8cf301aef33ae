package middleware

import (
	midsec "PTracker/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// Router registers routes, putting the auth middleware in front of the
// handlers that ask for it. A nil Auth makes every route public.
type Router struct {
	R    gin.IRoutes
	Auth *midsec.Options
}

func (r Router) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && r.Auth != nil && r.Auth.Verify != nil {
		return []gin.HandlerFunc{midsec.Middleware(r.Auth), handler}
	}
	return []gin.HandlerFunc{handler}
}

// 封装 POST
func (r Router) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.R.POST(path, r.chain(handler, opt)...)
}

// 封装 GET
func (r Router) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.R.GET(path, r.chain(handler, opt)...)
}

func (r Router) DELETE(path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.R.DELETE(path, r.chain(handler, opt)...)
}
