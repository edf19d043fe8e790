package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func befriend(t *testing.T, e *env, a, b testUser) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/friends/requests", a.Token, map[string]string{"peer_id": b.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/api/friends/requests/accept", b.Token, map[string]string{"peer_id": a.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSendAcceptFlow(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "Alice")
	bob := e.register(t, "Bob")

	w := e.do(t, http.MethodPost, "/api/friends/requests", alice.Token, map[string]string{"peer_id": bob.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Bob sees the pending request.
	w = e.do(t, http.MethodGet, "/api/friends/requests", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	reqs := decode(t, w)["requests"].([]interface{})
	require.Len(t, reqs, 1)
	assert.Equal(t, alice.ID, reqs[0].(map[string]interface{})["id"])

	w = e.do(t, http.MethodPost, "/api/friends/requests/accept", bob.Token, map[string]string{"peer_id": alice.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Both sides list each other.
	for _, u := range []testUser{alice, bob} {
		w = e.do(t, http.MethodGet, "/api/friends", u.Token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		friends := decode(t, w)["friends"].([]interface{})
		assert.Len(t, friends, 1)
	}

	// Request is gone.
	w = e.do(t, http.MethodGet, "/api/friends/requests", bob.Token, nil)
	assert.Len(t, decode(t, w)["requests"], 0)
}

func TestSendRequest_SelfIsRejected(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "Alice")

	w := e.do(t, http.MethodPost, "/api/friends/requests", alice.Token, map[string]string{"peer_id": alice.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendRequest_DuplicateConflicts(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "Alice")
	bob := e.register(t, "Bob")

	w := e.do(t, http.MethodPost, "/api/friends/requests", alice.Token, map[string]string{"peer_id": bob.ID})
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/friends/requests", alice.Token, map[string]string{"peer_id": bob.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelAndReject(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "Alice")
	bob := e.register(t, "Bob")

	w := e.do(t, http.MethodPost, "/api/friends/requests", alice.Token, map[string]string{"peer_id": bob.ID})
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/friends/requests/cancel", alice.Token, map[string]string{"peer_id": bob.ID})
	require.Equal(t, http.StatusOK, w.Code)

	// Nothing pending anymore, so reject 404s.
	w = e.do(t, http.MethodPost, "/api/friends/requests/reject", bob.Token, map[string]string{"peer_id": alice.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestToggleTwiceRoundTrips(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "Alice")
	bob := e.register(t, "Bob")

	w := e.do(t, http.MethodPost, "/api/friends/requests/toggle", alice.Token, map[string]string{"peer_id": bob.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["pending"])

	w = e.do(t, http.MethodPost, "/api/friends/requests/toggle", alice.Token, map[string]string{"peer_id": bob.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["pending"])
}

func TestUnfriend(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "Alice")
	bob := e.register(t, "Bob")
	befriend(t, e, alice, bob)

	w := e.do(t, http.MethodPost, "/api/friends/remove", bob.Token, map[string]string{"peer_id": alice.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/friends", alice.Token, nil)
	assert.Len(t, decode(t, w)["friends"], 0)
}

func TestListFriends_OnlineFlag(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "Alice")
	bob := e.register(t, "Bob")
	befriend(t, e, alice, bob)

	// Bob publishes a fix, which marks him online.
	w := e.do(t, http.MethodPut, "/api/me/location", bob.Token, map[string]interface{}{
		"latitude":  48.8566,
		"longitude": 2.3522,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/friends", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	friends := decode(t, w)["friends"].([]interface{})
	require.Len(t, friends, 1)
	entry := friends[0].(map[string]interface{})
	assert.Equal(t, bob.ID, entry["id"])
	assert.Equal(t, true, entry["online"])
	assert.NotNil(t, entry["location"])
}
