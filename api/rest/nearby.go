package rest

import (
	"net/http"
	"strconv"

	"github.com/TotoB12/loco/geo"
	mw "github.com/TotoB12/loco/middleware"
	"github.com/TotoB12/loco/presence"
	"github.com/gin-gonic/gin"
)

// NearbyHandler handles the distance-ranked user listing.
type NearbyHandler struct {
	store *presence.Store
}

// NewNearbyHandler creates a new NearbyHandler.
func NewNearbyHandler(store *presence.Store) *NearbyHandler {
	return &NearbyHandler{store: store}
}

// Nearby handles GET /api/nearby?q=<substring>&friends=<bool>.
// Users are ranked by great-circle distance from the caller's last fix;
// users without a fix sort last.
func (h *NearbyHandler) Nearby(c *gin.Context) {
	userID := mw.GetUserID(c)
	self, ok := h.store.Get(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	friendsOnly := false
	if raw := c.Query("friends"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "friends must be a boolean"})
			return
		}
		friendsOnly = v
	}

	snap := h.store.Snapshot()
	candidates := make([]geo.Candidate, 0, len(snap))
	for id, rec := range snap {
		if id == userID {
			continue
		}
		candidates = append(candidates, geo.Candidate{
			ID:       rec.ID,
			Name:     rec.Name,
			Location: rec.Location,
			Friend:   self.Friends[id],
		})
	}

	ranked := geo.Rank(self.Location, candidates, c.Query("q"), friendsOnly)
	online := h.store.OnlineIDs(c.Request.Context())

	out := make([]gin.H, 0, len(ranked))
	for _, r := range ranked {
		entry := gin.H{
			"id":     r.ID,
			"name":   r.Name,
			"friend": r.Friend,
			"online": online[r.ID],
		}
		if r.Location != nil {
			entry["location"] = r.Location
			entry["distance_km"] = r.DistanceKm
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}
