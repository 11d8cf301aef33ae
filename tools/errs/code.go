package errs

const (
	ServerInternalError = 500

	ArgsError = 1001

	RemoteUnavailableError = 1102
	OfflineError           = 1101
	NotFoundError          = 1103
	PermissionDeniedError  = 1104
	UnauthenticatedError   = 1105
)

var (
	ErrInternal = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs     = NewCodeError(ArgsError, "ArgsError")

	// ErrOffline: the action needs connectivity and there is none.
	ErrOffline = NewCodeError(OfflineError, "OfflineError")
	// ErrRemoteUnavailable: transient backend failure, includes being offline.
	ErrRemoteUnavailable = NewCodeError(RemoteUnavailableError, "RemoteUnavailable")
	ErrNotFound          = NewCodeError(NotFoundError, "NotFound")
	// ErrPermissionDenied: positioning permission withheld.
	ErrPermissionDenied = NewCodeError(PermissionDeniedError, "PermissionDenied")
	ErrUnauthenticated  = NewCodeError(UnauthenticatedError, "Unauthenticated")
)

func init() {
	// an offline failure is also a remote-unavailable failure
	_ = DefaultCodeRelation.Add(RemoteUnavailableError, OfflineError)
}
