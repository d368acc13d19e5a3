package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/core"
)

// RoomHandlers provides HTTP handlers for room endpoints.
type RoomHandlers struct {
	hub      *core.Hub
	baseURL  string
	limiters *userLimiters
	log      *zerolog.Logger
	now      func() time.Time
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub *core.Hub, baseURL string, ratePerMinute int, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub:      hub,
		baseURL:  baseURL,
		limiters: newUserLimiters(ratePerMinute),
		log:      logger,
		now:      time.Now,
	}
}

// CreateRoomRequest represents the create-or-join request body.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

// SendMessageRequest represents a chat message body.
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// JoinResponse is returned when the caller enters a room.
type JoinResponse struct {
	RoomID  string `json:"room_id"`
	Created bool   `json:"created"`
	Share   string `json:"share"`
}

// ResolveResponse tells the client what typing the input would do.
type ResolveResponse struct {
	RoomID    string `json:"room_id,omitempty"`
	Create    bool   `json:"create,omitempty"`
	NameTaken bool   `json:"name_taken,omitempty"`
}

// ShareResponse carries the values a client copies to the clipboard.
type ShareResponse struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Link   string `json:"link"`
}

// ListRooms returns the directory with member counts.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.hub.Directory.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	out := make([]RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

// CreateRoom joins the room named or identified by the body, creating it when new.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	who := identity(c)
	roomID, created, err := h.hub.Directory.CreateOrJoin(c.Request.Context(), who, req.Name)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, JoinResponse{RoomID: roomID, Created: created, Share: core.ShareLink(h.baseURL, roomID)})
}

// ResolveRoom reports whether the query names an existing room.
// GET /api/rooms/resolve?q=
func (h *RoomHandlers) ResolveRoom(c *gin.Context) {
	res, err := h.hub.Directory.Resolve(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ResolveResponse{RoomID: res.RoomID, Create: res.CreateNew, NameTaken: res.NameTaken})
}

// ShareRoom returns the room id and an invitation link.
// GET /api/rooms/:id/share
func (h *RoomHandlers) ShareRoom(c *gin.Context) {
	room, err := h.hub.Directory.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ShareResponse{
		RoomID: core.CopyRoomID(room.ID),
		Name:   room.Name,
		Link:   core.ShareLink(h.baseURL, room.ID),
	})
}

// JoinRoom adds the caller to the room.
// POST /api/rooms/:id/join
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	roomID := c.Param("id")
	created, err := h.hub.Membership.Join(c.Request.Context(), roomID, identity(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, JoinResponse{RoomID: roomID, Created: created, Share: core.ShareLink(h.baseURL, roomID)})
}

// LeaveRoom removes the caller from the room.
// POST /api/rooms/:id/leave
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	roomID := c.Param("id")
	remaining, err := h.hub.Membership.Leave(c.Request.Context(), roomID, identity(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "remaining": remaining})
}

// ListMembers returns the users present in the room.
// GET /api/rooms/:id/members
func (h *RoomHandlers) ListMembers(c *gin.Context) {
	roomID := c.Param("id")
	if _, err := h.hub.Directory.Room(c.Request.Context(), roomID); err != nil {
		writeError(c, h.log, err)
		return
	}
	members, err := h.hub.Membership.List(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, memberResponses(members))
}

// ListMessages returns the room history grouped by calendar day.
// GET /api/rooms/:id/messages?tz=Europe/Berlin
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	loc := time.UTC
	if tz := c.Query("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown time zone", Code: core.ErrCodeBadRequest})
			return
		}
		loc = l
	}

	roomID := c.Param("id")
	if _, err := h.hub.Directory.Room(c.Request.Context(), roomID); err != nil {
		writeError(c, h.log, err)
		return
	}
	msgs, err := h.hub.Messages.History(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dayResponses(core.GroupByDay(msgs, h.now(), loc)))
}

// SendMessage posts a message as the caller, who must be a member.
// POST /api/rooms/:id/messages
func (h *RoomHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	who := identity(c)
	if !h.limiters.allow(who.UserID) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many messages", Code: "rate_limited"})
		return
	}

	roomID := c.Param("id")
	member, err := h.hub.Membership.IsMember(c.Request.Context(), roomID, who.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if !member {
		writeError(c, h.log, core.ErrNotInRoom)
		return
	}

	id, err := h.hub.Messages.Append(c.Request.Context(), roomID, core.Message{
		Kind:       core.KindUser,
		Text:       req.Text,
		AuthorID:   who.UserID,
		AuthorName: who.Name(),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
