package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/server/auth"
)

type ctxKey int

const agentIDKey ctxKey = 1

func withAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

func agentIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentIDKey).(string)
	return id, ok
}

// authRequired checks the Bearer token and adds the agent ID to the
// request context.
func (s *HTTPServer) authRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(h, "Bearer ")
		agentID, err := auth.GetAgentIDFromToken(token, s.jwtSecret)
		if err != nil {
			// expired tokens get a distinct message so clients know to refresh
			if errors.Is(err, common.ErrTokenExpired) {
				http.Error(w, common.ErrTokenExpired.Error(), http.StatusUnauthorized)
				return
			}
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAgentID(r.Context(), agentID)))
	})
}
