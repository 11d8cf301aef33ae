package location

import (
	"net/http"

	"PTracker/middleware"
	midsec "PTracker/middleware/security"
	"PTracker/module/location/engine"
	"PTracker/module/location/model"
	"PTracker/module/location/tracking"
	"PTracker/service/events"
	"PTracker/tools"
	"PTracker/tools/errs"

	"github.com/gin-gonic/gin"
)

// PositionSink accepts a fix reported for userID by the device's
// positioning hardware.
type PositionSink func(userID string, s model.LocationSample) error

// Handler is the HTTP face of the engine: commands over JSON, callbacks over
// the /events websocket.
type Handler struct {
	eng      *engine.Engine
	hub      *events.Hub
	sink     PositionSink
	identity func() (string, bool)
}

func NewHandler(eng *engine.Engine, hub *events.Hub, sink PositionSink, identity func() (string, bool)) *Handler {
	return &Handler{eng: eng, hub: hub, sink: sink, identity: identity}
}

// EventCallbacks publishes every engine callback on hub.
func EventCallbacks(hub *events.Hub) engine.Callbacks {
	return engine.Callbacks{
		OnLocationUpdate:        func(r model.UserLocationRecord) { hub.Publish(events.TypeLocation, r) },
		OnFriendsChanged:        func(f engine.FriendsUpdate) { hub.Publish(events.TypeFriends, f) },
		OnTrackingTargetChanged: func(u tracking.Update) { hub.Publish(events.TypeTracking, u) },
		OnOfflineStateChanged:   func(off bool) { hub.Publish(events.TypeOffline, map[string]bool{"offline": off}) },
		OnError:                 func(err error) { hub.Publish(events.TypeError, tools.Fail(err)) },
	}
}

func (h *Handler) Register(rt middleware.Router) {
	auth := middleware.RouteOpt{IsAuth: true}
	rt.GET("/healthz", h.health, middleware.RouteOpt{})
	rt.GET("/events", h.hub.HandleWS, auth)

	rt.GET("/api/state", h.state, auth)
	rt.POST("/api/sharing", h.toggleSharing, auth)
	rt.POST("/api/positions", h.postPosition, auth)

	rt.POST("/api/tracking/code", h.trackCode, auth)
	rt.POST("/api/tracking/friend", h.trackFriend, auth)
	rt.DELETE("/api/tracking", h.stopTracking, auth)

	rt.GET("/api/users/search", h.search, auth)
	rt.POST("/api/friends/requests", h.sendRequest, auth)
	rt.POST("/api/friends/requests/:id/accept", h.acceptRequest, auth)
	rt.POST("/api/friends/requests/:id/decline", h.declineRequest, auth)
	rt.DELETE("/api/friends/:id", h.removeFriend, auth)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, tools.Success(data))
}

func fail(c *gin.Context, err error) {
	c.JSON(tools.HTTPStatus(err), tools.Fail(err))
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return false
	}
	return true
}

func (h *Handler) health(c *gin.Context) {
	st := h.eng.GetLastKnownState()
	ok(c, gin.H{"offline": st.Offline, "pending": st.Pending})
}

func (h *Handler) state(c *gin.Context) {
	ok(c, h.eng.GetLastKnownState())
}

type sharingReq struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) toggleSharing(c *gin.Context) {
	var req sharingReq
	if !bind(c, &req) {
		return
	}
	if err := h.eng.ToggleSharing(c.Request.Context(), *req.Enabled); err != nil {
		fail(c, err)
		return
	}
	st := h.eng.GetLastKnownState()
	ok(c, gin.H{"sharing": st.Sharing, "trackingCode": st.TrackingCode})
}

// postPosition hands the fix to the positioning source; the engine sees it
// through its watch like any other sample.
func (h *Handler) postPosition(c *gin.Context) {
	var s model.LocationSample
	if !bind(c, &s) {
		return
	}
	uid := midsec.UserID(c)
	if uid == "" {
		var signedIn bool
		if uid, signedIn = h.identity(); !signedIn {
			fail(c, errs.ErrUnauthenticated.WrapMsg("no signed-in user"))
			return
		}
	}
	if err := h.sink(uid, s); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, tools.Success(nil))
}

type codeReq struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) trackCode(c *gin.Context) {
	var req codeReq
	if !bind(c, &req) {
		return
	}
	if err := h.eng.StartTracking(c.Request.Context(), req.Code); err != nil {
		fail(c, err)
		return
	}
	ok(c, h.eng.GetLastKnownState().Tracking)
}

type friendReq struct {
	FriendID string `json:"friendId" binding:"required"`
}

func (h *Handler) trackFriend(c *gin.Context) {
	var req friendReq
	if !bind(c, &req) {
		return
	}
	if err := h.eng.StartTrackingFriend(c.Request.Context(), req.FriendID); err != nil {
		fail(c, err)
		return
	}
	ok(c, h.eng.GetLastKnownState().Tracking)
}

func (h *Handler) stopTracking(c *gin.Context) {
	h.eng.StopTracking()
	ok(c, h.eng.GetLastKnownState().Tracking)
}

func (h *Handler) search(c *gin.Context) {
	res, err := h.eng.SearchUsers(c.Request.Context(), c.Query("q"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

type userReq struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *Handler) sendRequest(c *gin.Context) {
	var req userReq
	if !bind(c, &req) {
		return
	}
	if err := h.eng.SendFriendRequest(c.Request.Context(), req.UserID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *Handler) acceptRequest(c *gin.Context) {
	if err := h.eng.AcceptFriendRequest(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *Handler) declineRequest(c *gin.Context) {
	if err := h.eng.DeclineFriendRequest(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *Handler) removeFriend(c *gin.Context) {
	if err := h.eng.RemoveFriend(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
