package identity

import (
	"context"
	"net/http"

	"attendance-service/internal/models"
	"attendance-service/pkg/response"

	"github.com/go-chi/render"
)

// The upstream gateway authenticates the caller and forwards the resolved
// identity context in these headers. This service never sees credentials.
const (
	HeaderUserID  = "X-User-Id"
	HeaderRole    = "X-User-Role"
	HeaderSection = "X-Section"
	HeaderBranch  = "X-Branch"
	HeaderYear    = "X-Year"
)

type ctxKey struct{}

func New(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := models.Actor{
			UserID:  r.Header.Get(HeaderUserID),
			Role:    models.Role(r.Header.Get(HeaderRole)),
			Section: r.Header.Get(HeaderSection),
			Branch:  r.Header.Get(HeaderBranch),
			Year:    r.Header.Get(HeaderYear),
		}

		if actor.UserID == "" || !actor.Role.Valid() {
			w.WriteHeader(http.StatusUnauthorized)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "missing or invalid identity context"))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Actor returns the identity stored by the middleware. The second value is
// false on routes mounted outside of it.
func Actor(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(models.Actor)
	return actor, ok
}
