package reconcile

import (
	"context"

	"PTracker/module/location/model"
	"PTracker/tools/decode"
	"PTracker/tools/errs"
)

// LocationWriter is satisfied by *gateway.Gateway.
type LocationWriter interface {
	ApplyLocationUpdate(ctx context.Context, u model.LocationUpdate) error
}

// UpdateUserLocation replays a queued updateUserLocation as a full overwrite.
func UpdateUserLocation(w LocationWriter) Applier {
	return func(ctx context.Context, op model.PendingOperation) error {
		u, err := decode.DecodeMap[model.LocationUpdate](op.Payload)
		if err != nil {
			return errs.ErrArgs.WrapMsg(err.Error(), "id", op.ID)
		}
		if u.UserID == "" {
			return errs.ErrArgs.WrapMsg("payload without userId", "id", op.ID)
		}
		if u.Location != nil {
			if err := u.Location.Validate(); err != nil {
				return errs.ErrArgs.WrapMsg(err.Error(), "id", op.ID)
			}
		}
		return w.ApplyLocationUpdate(ctx, *u)
	}
}

// RegisterDefaults wires the built-in operation kinds.
func (l *Loop) RegisterDefaults(w LocationWriter) {
	l.Register(model.KindUpdateUserLocation, UpdateUserLocation(w))
}
