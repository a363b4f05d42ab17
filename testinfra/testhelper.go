package testinfra

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"maintos/authority"
	"maintos/domain"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
)

// BuildSession builds a session with the given permissions, parsing plant
// roles out of "role_plantId" shaped entries.
func BuildSession(uid types.ID, perms ...string) *session.Session {
	plantRoles := authority.PlantRoles{}
	for _, perm := range perms {
		idx := strings.Index(perm, "_")
		if idx > 0 {
			role := perm[0:idx]
			plantId, err := types.ParseID(perm[idx+1:])
			if err != nil {
				continue
			}
			plantRoles = append(plantRoles, domain.PlantRole{PlantID: plantId, Role: role})
		}
	}

	return &session.Session{Token: "test-token", Identity: session.Identity{ID: uid, Name: "test-user", Nickname: "test-user"},
		Perms: perms, PlantRoles: plantRoles}
}

// SessionFilter injects a fixed session into every request, standing in for
// the auth filter in REST tests.
func SessionFilter(s *session.Session) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		session.InjectSessionIntoGinContext(ctx, s)
		ctx.Next()
	}
}

func ExecuteRequest(req *http.Request, router *gin.Engine) (int, string, http.Header) {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code, w.Body.String(), w.Header()
}
