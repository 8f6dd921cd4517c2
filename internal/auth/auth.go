package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/auth/authclient"
	"github.com/iurnickita/ifgmart/internal/auth/config"
	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/token"
)

type Auth interface {
	Middleware(h http.HandlerFunc) http.HandlerFunc
	AdminOnly(h http.HandlerFunc) http.HandlerFunc
}

const cookieUserToken = "ifgmartAccessToken"

var ErrNoVerifier = errors.New("auth: neither jwt secret nor auth url is configured")

type ctxKey struct{}

// WithUser кладет пользователя в контекст запроса
func WithUser(ctx context.Context, user model.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

func UserFromContext(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(model.User)
	return user, ok && user.ID != ""
}

// CurrentUser возвращает пользователя запроса или nil
func CurrentUser(ctx context.Context) (*model.User, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, nil
	}
	return &user, nil
}

type verifier func(ctx context.Context, accessToken string) (model.User, error)

type auth struct {
	verify verifier
	zaplog *zap.Logger
}

// NewAuth проверяет токены локально по секрету, иначе через провайдера
func NewAuth(cfg config.Config, zaplog *zap.Logger) (Auth, error) {
	switch {
	case cfg.JWTSecret != "":
		return &auth{
			verify: func(_ context.Context, accessToken string) (model.User, error) {
				return token.GetUser(accessToken, cfg.JWTSecret)
			},
			zaplog: zaplog,
		}, nil
	case cfg.AuthURL != "":
		client := authclient.NewAuthClient(cfg.AuthURL, cfg.AuthAPIKey)
		return &auth{verify: client.GetUser, zaplog: zaplog}, nil
	default:
		return nil, ErrNoVerifier
	}
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение пользователя
		user, err := a.getUser(r)
		if err != nil {
			a.zaplog.Debug("unauthorized request", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, model.ErrNotAuthenticated.Error(), http.StatusUnauthorized)
			return
		}

		// передаём управление хендлеру
		h.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// AdminOnly пропускает только администраторов. Ставится после Middleware
func (a *auth) AdminOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			http.Error(w, model.ErrNotAuthenticated.Error(), http.StatusUnauthorized)
			return
		}
		if !user.IsAdmin() {
			http.Error(w, model.ErrForbidden.Error(), http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getUser(r *http.Request) (model.User, error) {
	accessToken, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || accessToken == "" {
		// куки пользователя
		tokenCookie, err := r.Cookie(cookieUserToken)
		if err != nil {
			return model.User{}, err
		}
		accessToken = tokenCookie.Value
	}
	return a.verify(r.Context(), accessToken)
}
