package specialerror

import (
	"context"
	"errors"
	"sync"

	"PTracker/tools/errs"

	"github.com/go-playground/validator/v10"
)

var (
	mu       sync.RWMutex
	handlers []func(err error) *errs.CodeError
)

func init() {
	_ = AddErrHandler(func(err error) *errs.CodeError {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return errs.ErrRemoteUnavailable.WithDetail(err.Error())
		}
		return nil
	})
	_ = AddErrHandler(func(err error) *errs.CodeError {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return errs.ErrArgs.WithDetail(ve.Error())
		}
		return nil
	})
}

// AddErrHandler registers a translation for errors that carry no code.
// Handlers run in registration order; the first non-nil result wins.
func AddErrHandler(h func(err error) *errs.CodeError) error {
	if h == nil {
		return errs.New("nil handler")
	}
	mu.Lock()
	handlers = append(handlers, h)
	mu.Unlock()
	return nil
}

// ErrCode returns the code error carried by err, or the translation of a
// registered handler, or ErrInternal.
func ErrCode(err error) *errs.CodeError {
	if err == nil {
		return nil
	}
	var codeErr *errs.CodeError
	if errors.As(err, &codeErr) {
		return codeErr
	}
	mu.RLock()
	hs := handlers
	mu.RUnlock()
	for _, h := range hs {
		if ce := h(err); ce != nil {
			return ce
		}
	}
	return errs.ErrInternal.WithDetail(err.Error())
}
