package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/testutil"
	"github.com/parley-chat/parley/internal/types"
	"github.com/stretchr/testify/assert"
)

func Test_authMiddleware(t *testing.T) {
	s := &ParleyApp{
		log:        testutil.TestLogger(t),
		signingKey: []byte("test-signing-key"),
	}

	var gotUserId int64
	var called bool
	next := func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotUserId, _ = UserId(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	t.Run("missing cookie", func(t *testing.T) {
		called = false
		r := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		w := httptest.NewRecorder()

		s.authMiddleware(next)(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "expected 401 without a token cookie")
		assert.False(t, called, "expected handler not to run")
	})

	t.Run("invalid token", func(t *testing.T) {
		called = false
		r := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "not-a-token"})
		w := httptest.NewRecorder()

		s.authMiddleware(next)(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "expected 401 for an invalid token")
		assert.False(t, called, "expected handler not to run")
	})

	t.Run("valid token", func(t *testing.T) {
		called = false
		token, err := s.createJwtForSession(types.User{Id: 42}, time.Hour)
		assert.NoError(t, err, "expected no error creating token")

		r := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		w := httptest.NewRecorder()

		s.authMiddleware(next)(w, r)

		assert.Equal(t, http.StatusOK, w.Code, "expected handler to run for a valid token")
		assert.True(t, called, "expected handler to run")
		assert.Equal(t, int64(42), gotUserId, "expected user id to be placed on the context")
	})
}

func Test_errorHandler(t *testing.T) {
	s := &ParleyApp{log: testutil.TestLogger(t)}

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	r := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	w := httptest.NewRecorder()

	s.errorHandler(panicking).ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code, "expected panic to surface as 500")
}
