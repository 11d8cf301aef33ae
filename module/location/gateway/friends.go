package gateway

import (
	"context"

	"PTracker/service/docstore"
	"PTracker/tools/errs"
)

func (g *Gateway) checkPair(op, a, b string) error {
	if a == "" || b == "" {
		return errs.ErrArgs.WrapMsg("empty user id", "op", op)
	}
	if a == b {
		return errs.ErrArgs.WrapMsg("cannot target yourself", "op", op)
	}
	return g.requireOnline(op)
}

// SendRequest records from -> to as pending on both documents.
func (g *Gateway) SendRequest(ctx context.Context, from, to string) error {
	if err := g.checkPair("sendRequest", from, to); err != nil {
		return err
	}
	me, err := g.ReadUserRecord(ctx, from)
	if err != nil {
		return err
	}
	if me.IsFriend(to) {
		return errs.ErrArgs.WrapMsg("already friends", "from", from, "to", to)
	}
	return g.runSaga(ctx, "sendRequest",
		step{name: "target.friendRequests", doc: to, fields: map[string]any{
			"friendRequests": docstore.ArrayUnion(from),
		}},
		step{name: "sender.sentRequests", doc: from, fields: map[string]any{
			"sentRequests": docstore.ArrayUnion(to),
		}},
	)
}

// AcceptRequest makes the edge mutual and drops the request entries.
func (g *Gateway) AcceptRequest(ctx context.Context, me, from string) error {
	if err := g.checkPair("acceptRequest", me, from); err != nil {
		return err
	}
	rec, err := g.ReadUserRecord(ctx, me)
	if err != nil {
		return err
	}
	// a half-applied accept leaves from in friends; running again converges it
	if !rec.HasRequestFrom(from) && !rec.IsFriend(from) {
		return errs.ErrNotFound.WrapMsg("no pending friend request", "me", me, "from", from)
	}
	return g.runSaga(ctx, "acceptRequest",
		step{name: "me.friends", doc: me, fields: map[string]any{
			"friends":        docstore.ArrayUnion(from),
			"friendRequests": docstore.ArrayRemove(from),
		}},
		step{name: "sender.friends", doc: from, fields: map[string]any{
			"friends":      docstore.ArrayUnion(me),
			"sentRequests": docstore.ArrayRemove(me),
		}},
	)
}

func (g *Gateway) DeclineRequest(ctx context.Context, me, from string) error {
	if err := g.checkPair("declineRequest", me, from); err != nil {
		return err
	}
	return g.runSaga(ctx, "declineRequest",
		step{name: "me.friendRequests", doc: me, fields: map[string]any{
			"friendRequests": docstore.ArrayRemove(from),
		}},
		step{name: "sender.sentRequests", doc: from, fields: map[string]any{
			"sentRequests": docstore.ArrayRemove(me),
		}},
	)
}

// RemoveFriend deletes membership on both sides.
func (g *Gateway) RemoveFriend(ctx context.Context, me, friend string) error {
	if err := g.checkPair("removeFriend", me, friend); err != nil {
		return err
	}
	return g.runSaga(ctx, "removeFriend",
		step{name: "me.friends", doc: me, fields: map[string]any{
			"friends": docstore.ArrayRemove(friend),
		}},
		step{name: "friend.friends", doc: friend, fields: map[string]any{
			"friends": docstore.ArrayRemove(me),
		}},
	)
}
