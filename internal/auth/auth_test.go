package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/auth/config"
	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/token"
)

const testSecret = "test-secret"

func whoami(w http.ResponseWriter, r *http.Request) {
	user, err := CurrentUser(r.Context())
	if err != nil || user == nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Write([]byte(user.ID))
}

func TestMiddleware(t *testing.T) {
	a, err := NewAuth(config.Config{JWTSecret: testSecret}, zap.NewNop())
	require.NoError(t, err)
	h := a.Middleware(whoami)

	tokenString, err := token.BuildJWTString(model.User{ID: "user-1"}, testSecret, time.Hour)
	require.NoError(t, err)

	t.Run("bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+tokenString)
		w := httptest.NewRecorder()
		h(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", w.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: cookieUserToken, Value: tokenString})
		w := httptest.NewRecorder()
		h(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		h(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestMiddlewareAuthProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"user-2","email":"two@example.com"}`))
	}))
	defer srv.Close()

	a, err := NewAuth(config.Config{AuthURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer opaque")
	w := httptest.NewRecorder()
	a.Middleware(whoami)(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-2", w.Body.String())
}

func TestAdminOnly(t *testing.T) {
	a, err := NewAuth(config.Config{JWTSecret: testSecret}, zap.NewNop())
	require.NoError(t, err)
	h := a.AdminOnly(whoami)

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{name: "anonymous", ctx: context.Background(), want: http.StatusUnauthorized},
		{name: "user", ctx: WithUser(context.Background(), model.User{ID: "user-1"}), want: http.StatusForbidden},
		{name: "admin", ctx: WithUser(context.Background(), model.User{ID: "admin-1", Role: model.UserRoleAdmin}), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tt.ctx))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestNewAuthWithoutVerifier(t *testing.T) {
	_, err := NewAuth(config.Config{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoVerifier)
}
