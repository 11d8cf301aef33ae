package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// MiddlewareManager 可以自由注册/注销中间件
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []namedMiddleware
}

type namedMiddleware struct {
	name string
	h    gin.HandlerFunc
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Add registers h under name, replacing an earlier one with the same name
// in place.
func (m *MiddlewareManager) Add(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mids {
		if m.mids[i].name == name {
			m.mids[i].h = h
			return
		}
	}
	m.mids = append(m.mids, namedMiddleware{name: name, h: h})
}

func (m *MiddlewareManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mids {
		if m.mids[i].name == name {
			m.mids = append(m.mids[:i], m.mids[i+1:]...)
			return
		}
	}
}

func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.mids))
	for i, mw := range m.mids {
		out[i] = mw.name
	}
	return out
}

// Use 返回一个 gin.HandlerFunc，作为总控挂载到 Engine 上
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := make([]gin.HandlerFunc, len(m.mids)) // 拷贝一份快照
		for i, mw := range m.mids {
			handlers[i] = mw.h
		}
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
