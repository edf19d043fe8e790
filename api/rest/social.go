package rest

import (
	"errors"
	"net/http"

	"github.com/TotoB12/loco/audit"
	mw "github.com/TotoB12/loco/middleware"
	"github.com/TotoB12/loco/presence"
	"github.com/TotoB12/loco/social"
	"github.com/gin-gonic/gin"
)

// SocialHandler handles friend-graph REST endpoints.
type SocialHandler struct {
	svc   *social.Service
	store *presence.Store
	audit *audit.Service
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(svc *social.Service, store *presence.Store, auditSvc *audit.Service) *SocialHandler {
	return &SocialHandler{svc: svc, store: store, audit: auditSvc}
}

type peerRequest struct {
	PeerID string `json:"peer_id" binding:"required,uuid4"`
}

// SendRequest handles POST /api/friends/requests.
func (h *SocialHandler) SendRequest(c *gin.Context) {
	h.mutate(c, "friend.request", func(userID, peerID string) error {
		return h.svc.SendRequest(c.Request.Context(), userID, peerID)
	})
}

// CancelRequest handles POST /api/friends/requests/cancel.
func (h *SocialHandler) CancelRequest(c *gin.Context) {
	h.mutate(c, "friend.cancel", func(userID, peerID string) error {
		return h.svc.CancelRequest(c.Request.Context(), userID, peerID)
	})
}

// RejectRequest handles POST /api/friends/requests/reject.
func (h *SocialHandler) RejectRequest(c *gin.Context) {
	h.mutate(c, "friend.reject", func(userID, peerID string) error {
		return h.svc.RejectRequest(c.Request.Context(), userID, peerID)
	})
}

// AcceptRequest handles POST /api/friends/requests/accept.
func (h *SocialHandler) AcceptRequest(c *gin.Context) {
	h.mutate(c, "friend.accept", func(userID, peerID string) error {
		return h.svc.AcceptRequest(c.Request.Context(), userID, peerID)
	})
}

// Unfriend handles POST /api/friends/remove.
func (h *SocialHandler) Unfriend(c *gin.Context) {
	h.mutate(c, "friend.unfriend", func(userID, peerID string) error {
		return h.svc.Unfriend(c.Request.Context(), userID, peerID)
	})
}

// ToggleRequest handles POST /api/friends/requests/toggle.
func (h *SocialHandler) ToggleRequest(c *gin.Context) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := mw.GetUserID(c)
	pending, err := h.svc.ToggleRequest(c.Request.Context(), userID, req.PeerID)
	h.logAudit(c, "friend.toggle", req.PeerID, err)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

// ListFriends handles GET /api/friends.
// Each entry carries the peer's live record plus an online flag.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	userID := mw.GetUserID(c)
	users, err := h.svc.Friends(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	online := h.store.OnlineIDs(c.Request.Context())
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		entry := gin.H{
			"id":     u.ID,
			"name":   u.Name,
			"online": online[u.ID],
		}
		if rec, ok := h.store.Get(u.ID); ok && rec.Location != nil {
			entry["location"] = rec.Location
			entry["timestamp"] = rec.Timestamp
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"friends": out})
}

// ListRequests handles GET /api/friends/requests.
func (h *SocialHandler) ListRequests(c *gin.Context) {
	userID := mw.GetUserID(c)
	users, err := h.svc.PendingRequests(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, gin.H{"id": u.ID, "name": u.Name})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (h *SocialHandler) mutate(c *gin.Context, action string, fn func(userID, peerID string) error) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := mw.GetUserID(c)
	err := fn(userID, req.PeerID)
	h.logAudit(c, action, req.PeerID, err)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (h *SocialHandler) logAudit(c *gin.Context, action, peerID string, err error) {
	entry := audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  mw.GetUserID(c),
		Action:  action,
		Detail:  gin.H{"peer_id": peerID},
		IP:      c.ClientIP(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, social.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, social.ErrSelfRelation):
		return http.StatusBadRequest
	case errors.Is(err, social.ErrAlreadyFriends),
		errors.Is(err, social.ErrRequestExists):
		return http.StatusConflict
	case errors.Is(err, social.ErrNoRequest),
		errors.Is(err, social.ErrNotFriends):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
