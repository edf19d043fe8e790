package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TotoB12/loco/api/rest"
	"github.com/TotoB12/loco/audit"
	"github.com/TotoB12/loco/config"
	mw "github.com/TotoB12/loco/middleware"
	"github.com/TotoB12/loco/presence"
	"github.com/TotoB12/loco/social"
	"github.com/TotoB12/loco/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	router *gin.Engine
	db     *gorm.DB
	store  *presence.Store
	social *social.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	ps := testutil.SetupTestPubSub(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}
	pcfg := config.PresenceConfig{
		MinMoveMeters:  10,
		MaxNameLength:  20,
		OutboxCapacity: 8,
		OnlineTTL:      time.Minute,
	}

	store := presence.NewStore(db, c, ps, pcfg, logger)
	require.NoError(t, store.Load(context.Background()))
	socialSvc := social.New(db, store, logger)
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	authH := rest.NewAuthHandler(db, c, store, sec)
	userH := rest.NewUserHandler(store, socialSvc, auditSvc)
	socialH := rest.NewSocialHandler(socialSvc, store, auditSvc)
	nearbyH := rest.NewNearbyHandler(store)

	r := gin.New()
	r.POST("/api/auth/register", authH.Register)
	r.POST("/api/auth/login", authH.Login)
	authed := r.Group("/api", mw.Auth(sec, c))
	authed.POST("/auth/logout", authH.Logout)
	authed.POST("/auth/refresh", authH.Refresh)
	authed.GET("/me", userH.Me)
	authed.PUT("/me/name", userH.Rename)
	authed.PUT("/me/location", userH.PublishLocation)
	authed.DELETE("/me", userH.DeleteAccount)
	authed.GET("/friends", socialH.ListFriends)
	authed.GET("/friends/requests", socialH.ListRequests)
	authed.POST("/friends/requests", socialH.SendRequest)
	authed.POST("/friends/requests/cancel", socialH.CancelRequest)
	authed.POST("/friends/requests/reject", socialH.RejectRequest)
	authed.POST("/friends/requests/accept", socialH.AcceptRequest)
	authed.POST("/friends/requests/toggle", socialH.ToggleRequest)
	authed.POST("/friends/remove", socialH.Unfriend)
	authed.GET("/nearby", nearbyH.Nearby)

	return &env{router: r, db: db, store: store, social: socialSvc}
}

type testUser struct {
	ID     string
	Secret string
	Token  string
}

func (e *env) register(t *testing.T, name string) testUser {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return testUser{
		ID:     resp["id"].(string),
		Secret: resp["secret"].(string),
		Token:  resp["token"].(string),
	}
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
