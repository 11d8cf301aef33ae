package gateway

import (
	"context"
	"errors"
	"strings"

	"PTracker/module/location/model"
	"PTracker/tools/errs"

	"go.uber.org/zap"
)

// SearchUsers matches text case-insensitively against name and email. The
// caller and existing friends are excluded; RequestSent marks users the caller
// already asked. There is no offline fallback.
func (g *Gateway) SearchUsers(ctx context.Context, callerID, text string) ([]model.UserSummary, error) {
	if err := g.requireOnline("searchUsers"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return []model.UserSummary{}, nil
	}

	me, err := g.ReadUserRecord(ctx, callerID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	all, err := g.store.Query(ctx, UsersCollection)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserSummary, 0)
	for _, snap := range all {
		if snap.ID == callerID || me.IsFriend(snap.ID) {
			continue
		}
		p, err := profileOf(snap)
		if err != nil {
			g.log.Warn("undecodable user document", zap.String("id", snap.ID), zap.Error(err))
			continue
		}
		if !strings.Contains(strings.ToLower(p.Name), needle) && !strings.Contains(strings.ToLower(p.Email), needle) {
			continue
		}
		out = append(out, model.UserSummary{
			ID:          p.UserID,
			Name:        p.Name,
			Email:       p.Email,
			RequestSent: me.HasSentRequest(p.UserID),
		})
	}
	return out, nil
}
