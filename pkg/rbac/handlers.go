package rbac

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boardperm/pkg/cache"
	"github.com/platinummonkey/boardperm/pkg/httputil"
	"github.com/platinummonkey/boardperm/pkg/observability"
)

// Handlers exposes permission queries, team and project administration, and
// cache diagnostics over HTTP
type Handlers struct {
	projects *ProjectAccess
	teams    *TeamAccess
	service  *Service
	log      logrus.FieldLogger
}

// NewHandlers creates new handlers
func NewHandlers(projects *ProjectAccess, teams *TeamAccess, service *Service, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		projects: projects,
		teams:    teams,
		service:  service,
		log:      loggerOrDiscard(log),
	}
}

// RegisterRoutes registers all routes, each gated by mw
func (h *Handlers) RegisterRoutes(router *mux.Router, mw *PermissionMiddleware) {
	project := func(p Permission, fn http.HandlerFunc) http.Handler {
		return mw.RequireProjectPermission(p)(fn)
	}
	team := func(p Permission, fn http.HandlerFunc) http.Handler {
		return mw.RequireTeamPermission(p)(fn)
	}

	// Projects
	router.Handle("/v1/projects", mw.RequireUser(http.HandlerFunc(h.CreateProject))).Methods("POST")
	router.Handle("/v1/projects/{projectID}", project(PermProjectEdit, h.RenameProject)).Methods("PATCH")
	router.Handle("/v1/projects/{projectID}", project(PermProjectDelete, h.DeleteProject)).Methods("DELETE")
	router.Handle("/v1/projects/{projectID}/permissions", project("", h.GetProjectPermissions)).Methods("GET")
	router.Handle("/v1/projects/{projectID}/owner", project("", h.TransferProjectOwnership)).Methods("PUT")
	router.Handle("/v1/projects/{projectID}/teams", project(PermProjectManageTeams, h.GrantProjectAccess)).Methods("POST")
	router.Handle("/v1/projects/{projectID}/teams/{teamID}", project(PermProjectManageTeams, h.ChangeProjectTeamRole)).Methods("PUT")
	router.Handle("/v1/projects/{projectID}/teams/{teamID}", project(PermProjectManageTeams, h.RevokeProjectAccess)).Methods("DELETE")

	// Teams
	router.Handle("/v1/teams", mw.RequireUser(http.HandlerFunc(h.CreateTeam))).Methods("POST")
	router.Handle("/v1/teams/{teamID}", team(PermTeamEdit, h.RenameTeam)).Methods("PATCH")
	router.Handle("/v1/teams/{teamID}", team(PermTeamDelete, h.DeleteTeam)).Methods("DELETE")
	router.Handle("/v1/teams/{teamID}/permissions", team("", h.GetTeamPermissions)).Methods("GET")
	router.Handle("/v1/teams/{teamID}/owner", team("", h.TransferTeamOwnership)).Methods("PUT")
	router.Handle("/v1/teams/{teamID}/members", team(PermTeamInviteMembers, h.AddTeamMember)).Methods("POST")
	router.Handle("/v1/teams/{teamID}/members/{userID}", team(PermTeamManageRoles, h.ChangeTeamRole)).Methods("PUT")
	router.Handle("/v1/teams/{teamID}/members/{userID}", team("", h.RemoveTeamMember)).Methods("DELETE")
}

// RegisterDebugRoutes registers cache diagnostics. The stats list every cached
// user and resource ID, so router must only be reachable internally.
func (h *Handlers) RegisterDebugRoutes(router *mux.Router) {
	router.HandleFunc("/debug/cache/{name}", h.GetCacheStats).Methods("GET")
}

// PermissionsResponse is returned by the permission listing endpoints
type PermissionsResponse struct {
	UserID      string       `json:"user_id"`
	ResourceID  string       `json:"resource_id"`
	Role        string       `json:"role,omitempty"`
	IsOwner     bool         `json:"is_owner"`
	Permissions []Permission `json:"permissions"`
}

// GetProjectPermissions lists the caller's effective permissions on a project
func (h *Handlers) GetProjectPermissions(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, ProjectIDVar)
	if !ok {
		return
	}

	checker := ProjectCheckerFromContext(r.Context())
	userID, _ := UserIDFromContext(r.Context())
	pc, _ := checker.Context()

	httputil.WriteSuccess(w, PermissionsResponse{
		UserID:      userID,
		ResourceID:  projectID,
		Role:        string(checker.EffectiveRole()),
		IsOwner:     pc.IsProjectOwner,
		Permissions: checker.EffectivePermissions(),
	})
}

// GetTeamPermissions lists the caller's effective permissions on a team
func (h *Handlers) GetTeamPermissions(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}

	checker := TeamCheckerFromContext(r.Context())
	userID, _ := UserIDFromContext(r.Context())
	tc, _ := checker.Context()

	httputil.WriteSuccess(w, PermissionsResponse{
		UserID:      userID,
		ResourceID:  teamID,
		Role:        string(checker.EffectiveRole()),
		IsOwner:     tc.IsTeamCreator,
		Permissions: checker.EffectivePermissions(),
	})
}

type nameRequest struct {
	Name string `json:"name"`
}

type ownerRequest struct {
	UserID string `json:"user_id"`
}

// CreateProject creates a project owned by the caller
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	project := &Project{ID: uuid.NewString(), Name: req.Name, OwnerID: userID}
	if err := h.service.CreateProject(r.Context(), project); err != nil {
		h.writeWriteError(w, r, err)
		return
	}

	httputil.WriteCreated(w, project)
}

// RenameProject updates the project name
func (h *Handlers) RenameProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, ProjectIDVar)
	if !ok {
		return
	}

	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	if err := h.service.RenameProject(r.Context(), projectID, req.Name); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// DeleteProject deletes a project
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, ProjectIDVar)
	if !ok {
		return
	}

	if err := h.service.DeleteProject(r.Context(), projectID); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// TransferProjectOwnership hands the project to another user. Only the
// current owner may do this.
func (h *Handlers) TransferProjectOwnership(w http.ResponseWriter, r *http.Request) {
	pc, ok := ProjectCheckerFromContext(r.Context()).Context()
	if !ok || !pc.IsProjectOwner {
		httputil.WriteForbidden(w, "Only the project owner can transfer ownership")
		return
	}

	projectID, ok := httputil.ParsePathStringOrError(w, r, ProjectIDVar)
	if !ok {
		return
	}

	var req ownerRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	if err := h.service.TransferProjectOwnership(r.Context(), projectID, req.UserID); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type projectGrantRequest struct {
	TeamID string          `json:"team_id"`
	Role   ProjectTeamRole `json:"role"`
}

// GrantProjectAccess grants a team a role on the project
func (h *Handlers) GrantProjectAccess(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, ProjectIDVar)
	if !ok {
		return
	}

	var req projectGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.TeamID, "team_id") {
		return
	}

	if err := h.service.GrantProjectAccess(r.Context(), projectID, req.TeamID, req.Role); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, TeamGrant{TeamID: req.TeamID, ProjectRole: req.Role})
}

// ChangeProjectTeamRole changes the role of an existing team grant
func (h *Handlers) ChangeProjectTeamRole(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, ProjectIDVar)
	if !ok {
		return
	}
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}

	var req struct {
		Role ProjectTeamRole `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.ChangeProjectTeamRole(r.Context(), projectID, teamID, req.Role); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeProjectAccess removes a team's grant on the project
func (h *Handlers) RevokeProjectAccess(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, ProjectIDVar)
	if !ok {
		return
	}
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}

	if err := h.service.RevokeProjectAccess(r.Context(), projectID, teamID); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreateTeam creates a team with the caller as creator and owner
func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	team := &Team{ID: uuid.NewString(), Name: req.Name, CreatorID: userID}
	if err := h.service.CreateTeam(r.Context(), team); err != nil {
		h.writeWriteError(w, r, err)
		return
	}

	httputil.WriteCreated(w, team)
}

// RenameTeam updates the team name
func (h *Handlers) RenameTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}

	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	if err := h.service.RenameTeam(r.Context(), teamID, req.Name); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// DeleteTeam deletes a team
func (h *Handlers) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}

	if err := h.service.DeleteTeam(r.Context(), teamID); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// TransferTeamOwnership hands the team to another user. Only the creator may
// do this.
func (h *Handlers) TransferTeamOwnership(w http.ResponseWriter, r *http.Request) {
	tc, ok := TeamCheckerFromContext(r.Context()).Context()
	if !ok || !tc.IsTeamCreator {
		httputil.WriteForbidden(w, "Only the team creator can transfer ownership")
		return
	}

	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}

	var req ownerRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	if err := h.service.TransferTeamOwnership(r.Context(), teamID, req.UserID); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AddTeamMember adds a user to the team. Roles above member additionally
// require TEAM_MANAGE_ROLES.
func (h *Handlers) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}

	var req struct {
		UserID string   `json:"user_id"`
		Role   TeamRole `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}
	if req.Role == TeamRoleNone {
		req.Role = TeamRoleMember
	}

	if req.Role.Rank() > TeamRoleMember.Rank() && !TeamCheckerFromContext(r.Context()).CanManageRoles() {
		httputil.WriteForbidden(w, "Insufficient permissions")
		return
	}

	membership := TeamMembership{TeamID: teamID, UserID: req.UserID, Role: req.Role}
	if err := h.service.AddTeamMember(r.Context(), membership.TeamID, membership.UserID, membership.Role); err != nil {
		h.writeWriteError(w, r, err)
		return
	}

	httputil.WriteCreated(w, membership)
}

// ChangeTeamRole changes a member's role
func (h *Handlers) ChangeTeamRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, UserIDVar)
	if !ok {
		return
	}

	var req struct {
		Role TeamRole `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.ChangeTeamRole(r.Context(), teamID, userID, req.Role); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveTeamMember removes a member. Members may always remove themselves
// when they hold TEAM_LEAVE; removing others needs TEAM_REMOVE_MEMBERS.
func (h *Handlers) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, TeamIDVar)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, UserIDVar)
	if !ok {
		return
	}

	callerID, _ := UserIDFromContext(r.Context())
	checker := TeamCheckerFromContext(r.Context())

	allowed := checker.CanRemoveMembers()
	if userID == callerID {
		allowed = checker.CanLeaveTeam()
	}
	if !allowed {
		httputil.WriteForbidden(w, "Insufficient permissions")
		return
	}

	if err := h.service.RemoveTeamMember(r.Context(), teamID, userID); err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetCacheStats returns diagnostics for the named permission cache
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	for _, stats := range []cache.Stats{h.projects.CacheStats(), h.teams.CacheStats()} {
		if stats.Name == name {
			httputil.WriteSuccess(w, stats)
			return
		}
	}

	httputil.WriteNotFound(w, "Unknown cache")
}

func (h *Handlers) writeWriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRole):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrAlreadyMember):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMembershipNotFound), errors.Is(err, ErrGrantNotFound):
		httputil.WriteNotFound(w, err.Error())
	default:
		observability.FromContextOr(r, h.log).WithError(err).Error("write failed")
		httputil.WriteInternalError(w)
	}
}
