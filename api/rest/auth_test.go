package rest_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_AssignsIdentity(t *testing.T) {
	e := newEnv(t)

	u := e.register(t, "")
	_, err := uuid.Parse(u.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, u.Secret)
	assert.NotEmpty(t, u.Token)

	// A generated name was assigned and is visible on the record.
	w := e.do(t, http.MethodGet, "/api/me", u.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.NotEmpty(t, resp["name"])
	assert.LessOrEqual(t, len(resp["name"].(string)), 20)
}

func TestRegister_KeepsChosenName(t *testing.T) {
	e := newEnv(t)
	u := e.register(t, "Wanderer")

	w := e.do(t, http.MethodGet, "/api/me", u.Token, nil)
	resp := decode(t, w)
	assert.Equal(t, "Wanderer", resp["name"])
	assert.Equal(t, u.ID, resp["id"])
}

func TestLogin_WithDeviceSecret(t *testing.T) {
	e := newEnv(t)
	u := e.register(t, "Alice")

	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"id":     u.ID,
		"secret": u.Secret,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, u.ID, resp["id"])
	assert.NotEmpty(t, resp["token"])
}

func TestLogin_WrongSecret(t *testing.T) {
	e := newEnv(t)
	u := e.register(t, "Alice")

	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"id":     u.ID,
		"secret": "not-the-secret",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_UnknownID(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"id":     uuid.NewString(),
		"secret": "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_InvalidatesSession(t *testing.T) {
	e := newEnv(t)
	u := e.register(t, "Alice")

	w := e.do(t, http.MethodPost, "/api/auth/logout", u.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/me", u.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	e := newEnv(t)
	u := e.register(t, "Alice")

	w := e.do(t, http.MethodPost, "/api/auth/refresh", u.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	newToken := decode(t, w)["token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, u.Token, newToken)

	// Old token is dead, new one works.
	w = e.do(t, http.MethodGet, "/api/me", u.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(t, http.MethodGet, "/api/me", newToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRoute_NoToken(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
