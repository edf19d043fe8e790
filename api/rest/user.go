package rest

import (
	"errors"
	"net/http"

	"github.com/TotoB12/loco/audit"
	"github.com/TotoB12/loco/identity"
	mw "github.com/TotoB12/loco/middleware"
	"github.com/TotoB12/loco/presence"
	"github.com/TotoB12/loco/social"
	"github.com/gin-gonic/gin"
)

// UserHandler handles the authenticated user's own record.
type UserHandler struct {
	store  *presence.Store
	social *social.Service
	audit  *audit.Service
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store *presence.Store, socialSvc *social.Service, auditSvc *audit.Service) *UserHandler {
	return &UserHandler{store: store, social: socialSvc, audit: auditSvc}
}

// Me handles GET /api/me.
func (h *UserHandler) Me(c *gin.Context) {
	userID := mw.GetUserID(c)
	rec, ok := h.store.Get(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type renameRequest struct {
	Name string `json:"name" binding:"required,max=20"`
}

// Rename handles PUT /api/me/name.
func (h *UserHandler) Rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := identity.ClampName(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be blank"})
		return
	}

	userID := mw.GetUserID(c)
	res, err := h.store.PublishSelf(c.Request.Context(), userID, presence.Update{Name: &name})
	if err != nil {
		h.logAudit(c, "user.rename", gin.H{"name": name}, err)
		status := http.StatusInternalServerError
		if errors.Is(err, presence.ErrUnknownUser) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	h.logAudit(c, "user.rename", gin.H{"name": name}, nil)
	c.JSON(http.StatusOK, res)
}

type locationRequest struct {
	Latitude  float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64 `json:"longitude" binding:"min=-180,max=180"`
	Timestamp int64   `json:"timestamp"` // unix ms, optional
}

// PublishLocation handles PUT /api/me/location.
func (h *UserHandler) PublishLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := mw.GetUserID(c)
	res, err := h.store.PublishSelf(c.Request.Context(), userID, presence.Update{
		Latitude:  &req.Latitude,
		Longitude: &req.Longitude,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, presence.ErrUnknownUser) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	_ = h.store.SetOnline(c.Request.Context(), userID)
	c.JSON(http.StatusOK, res)
}

// DeleteAccount handles DELETE /api/me.
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	userID := mw.GetUserID(c)
	err := h.social.DeleteAccount(c.Request.Context(), userID)
	h.logAudit(c, "user.delete", nil, err)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, social.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	_ = h.store.SetOffline(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

func (h *UserHandler) logAudit(c *gin.Context, action string, detail interface{}, err error) {
	entry := audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  mw.GetUserID(c),
		Action:  action,
		Detail:  detail,
		IP:      c.ClientIP(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}
