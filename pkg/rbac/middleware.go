package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boardperm/pkg/httputil"
	"github.com/platinummonkey/boardperm/pkg/observability"
)

// Route variables read by the middleware and handlers
const (
	ProjectIDVar = "projectID"
	TeamIDVar    = "teamID"
	UserIDVar    = "userID"
)

// UserIDFunc extracts the authenticated user from a request. Authentication
// itself happens upstream.
type UserIDFunc func(r *http.Request) (string, bool)

// HeaderUserID reads the user ID from a header set by an authenticating proxy
func HeaderUserID(header string) UserIDFunc {
	return func(r *http.Request) (string, bool) {
		id := r.Header.Get(header)
		return id, id != ""
	}
}

type contextKey int

const (
	userIDKey contextKey = iota
	projectCheckerKey
	teamCheckerKey
)

// UserIDFromContext returns the user resolved by the middleware
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// ProjectCheckerFromContext returns the checker loaded by RequireProjectPermission
func ProjectCheckerFromContext(ctx context.Context) *ProjectChecker {
	c, _ := ctx.Value(projectCheckerKey).(*ProjectChecker)
	return c
}

// TeamCheckerFromContext returns the checker loaded by RequireTeamPermission
func TeamCheckerFromContext(ctx context.Context) *TeamChecker {
	c, _ := ctx.Value(teamCheckerKey).(*TeamChecker)
	return c
}

// PermissionMiddleware gates handlers on project and team permissions
type PermissionMiddleware struct {
	projects *ProjectAccess
	teams    *TeamAccess
	userID   UserIDFunc
	log      logrus.FieldLogger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(projects *ProjectAccess, teams *TeamAccess, userID UserIDFunc, log logrus.FieldLogger) *PermissionMiddleware {
	return &PermissionMiddleware{
		projects: projects,
		teams:    teams,
		userID:   userID,
		log:      loggerOrDiscard(log),
	}
}

// RequireProjectPermission creates middleware that requires a permission on the
// project named by the {projectID} route variable. An empty permission only
// requires that the context loads.
func (pm *PermissionMiddleware) RequireProjectPermission(permission Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := pm.userID(r)
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			projectID := mux.Vars(r)[ProjectIDVar]
			if projectID == "" {
				httputil.WriteBadRequest(w, "Project ID required")
				return
			}

			checker := pm.projects.NewChecker()
			if _, err := checker.LoadContext(r.Context(), userID, projectID); err != nil {
				pm.writeLoadError(w, r, err)
				return
			}

			if permission != "" && !checker.HasPermission(permission) {
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, projectCheckerKey, checker)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTeamPermission creates middleware that requires a permission on the
// team named by the {teamID} route variable
func (pm *PermissionMiddleware) RequireTeamPermission(permission Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := pm.userID(r)
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			teamID := mux.Vars(r)[TeamIDVar]
			if teamID == "" {
				httputil.WriteBadRequest(w, "Team ID required")
				return
			}

			checker := pm.teams.NewChecker()
			if _, err := checker.LoadContext(r.Context(), userID, teamID); err != nil {
				pm.writeLoadError(w, r, err)
				return
			}

			if permission != "" && !checker.HasPermission(permission) {
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, teamCheckerKey, checker)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser only resolves the caller, for routes with no resource yet
func (pm *PermissionMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pm.userID(r)
		if !ok {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func (pm *PermissionMiddleware) writeLoadError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		httputil.WriteNotFound(w, nf.Error())
		return
	}
	// Storage failures deny without exposing the cause.
	observability.FromContextOr(r, pm.log).WithError(err).Warn("permission check failed")
	httputil.WriteServiceUnavailable(w, "Permission check unavailable")
}
