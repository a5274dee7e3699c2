package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-watchparty/internal/types"
)

const (
	tokenCookieKey = "token"
	tokenQueryKey  = "token"

	subjectClaim  = "sub"
	usernameClaim = "username"
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, user types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, user)
}

func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	user, ok := ctx.Value(identityKey).(types.Identity)
	return user, ok && user.UserId != ""
}

// tokenFromRequest looks for a bearer token, then the session cookie, then
// the query string. Browsers cannot set headers on a websocket upgrade.
func tokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && token != "" {
			return token, true
		}
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, true
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token, true
	}

	return "", false
}

func verifyToken(tokenString string, signingKey []byte) (types.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Identity{}, errors.New("invalid token claims")
	}

	userId, _ := claims[subjectClaim].(string)
	if userId == "" {
		return types.Identity{}, errors.New("invalid subject claim")
	}

	username, _ := claims[usernameClaim].(string)
	if username == "" {
		username = userId
	}

	return types.Identity{UserId: userId, Username: username}, nil
}
