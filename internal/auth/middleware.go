package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Authenticator resolves operators from bearer tokens
type Authenticator struct {
	secret []byte
}

// NewAuthenticator constructs an Authenticator
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// ActorFromRequest returns the operator named by the request's bearer token
// or token query parameter
func (a *Authenticator) ActorFromRequest(r *http.Request) (string, error) {
	token := extractBearer(r)
	if token == "" && r != nil {
		token = r.URL.Query().Get("token")
	}
	claims, err := ParseJWT(token, a.secret)
	if err != nil {
		return "", err
	}
	return claims.Actor(), nil
}

// Identify attaches the operator to the request context when a valid token
// is present. Requests without one pass through anonymously.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, err := a.ActorFromRequest(r); err == nil {
			r = r.WithContext(WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireActor rejects requests that carry no authenticated operator
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFromContext(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
