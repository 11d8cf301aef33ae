package tools

import (
	"net/http"

	"PTracker/tools/errs"
	"PTracker/tools/specialerror"
)

const CodeOK = 200

// Msg is the envelope of every HTTP response.
type Msg struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func Success(data any) *Msg {
	return &Msg{Code: CodeOK, Data: data}
}

func Fail(err error) *Msg {
	ce := specialerror.ErrCode(err)
	if ce == nil {
		return Success(nil)
	}
	return &Msg{Code: ce.Code, Msg: ce.Msg, Detail: ce.Detail}
}

// HTTPStatus maps an error class to a status code.
func HTTPStatus(err error) int {
	ce := specialerror.ErrCode(err)
	if ce == nil {
		return http.StatusOK
	}
	switch ce.Code {
	case errs.ArgsError:
		return http.StatusBadRequest
	case errs.UnauthenticatedError:
		return http.StatusUnauthorized
	case errs.PermissionDeniedError:
		return http.StatusForbidden
	case errs.NotFoundError:
		return http.StatusNotFound
	case errs.OfflineError, errs.RemoteUnavailableError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
