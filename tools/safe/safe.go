package safe

import (
	"fmt"
	"reflect"

	"PTracker/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required collaborators during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts a goroutine that recovers from panic and logs it,
// so that a misbehaving callback doesn't crash the agent.
func Go(log *zap.Logger, name string, f func()) {
	go func() {
		defer Recover(log, name)
		f()
	}()
}

// Call runs f synchronously with the same recovery as Go. It reports whether f
// returned normally.
func Call(log *zap.Logger, name string, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logPanic(log, name, r)
		}
	}()
	f()
	return true
}

// Recover must be deferred directly.
func Recover(log *zap.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(log, name, r)
	}
}

func logPanic(log *zap.Logger, name string, r any) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Error("panic recovered", zap.String("where", name), zap.Error(errs.ErrPanic(r)), zap.Stack("stack"))
}
