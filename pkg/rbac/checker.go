package rbac

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/platinummonkey/boardperm/pkg/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// LoadTimeout bounds a shared context load. The load is detached from the
// cancellation of the request that started it.
const LoadTimeout = 10 * time.Second

// ProjectLoader computes a project context without caching
type ProjectLoader interface {
	LoadProjectContext(ctx context.Context, userID, projectID string) (ProjectContext, error)
}

// TeamLoader computes a team context without caching
type TeamLoader interface {
	LoadTeamContext(ctx context.Context, userID, teamID string) (TeamContext, error)
}

// ProjectAccess owns the process-wide project context cache. Create one at
// startup and hand out a fresh ProjectChecker per request.
type ProjectAccess struct {
	cache  *cache.Store[ProjectContext]
	loader ProjectLoader
	group  singleflight.Group
	log    logrus.FieldLogger
}

// NewProjectAccess creates the project side of the engine
func NewProjectAccess(store *cache.Store[ProjectContext], loader ProjectLoader, log logrus.FieldLogger) *ProjectAccess {
	return &ProjectAccess{
		cache:  store,
		loader: loader,
		log:    loggerOrDiscard(log),
	}
}

// NewChecker returns a checker bound to the shared cache. Checkers are not
// safe for concurrent use.
func (a *ProjectAccess) NewChecker() *ProjectChecker {
	return &ProjectChecker{access: a}
}

// Load returns the context for (userID, projectID), reading through the cache.
// Errors are returned as-is and never cached.
func (a *ProjectAccess) Load(ctx context.Context, userID, projectID string) (ProjectContext, error) {
	key := cache.Key(userID, projectID)
	if pc, ok := a.cache.Get(key); ok {
		return pc.Clone(), nil
	}

	a.log.WithFields(logrus.Fields{"user_id": userID, "project_id": projectID}).
		Debug("project permission cache miss")

	pc, err := sharedLoad(ctx, &a.group, key, func(loadCtx context.Context) (ProjectContext, error) {
		pc, err := a.loader.LoadProjectContext(loadCtx, userID, projectID)
		if err != nil {
			return ProjectContext{}, err
		}
		a.cache.Set(key, pc.Clone())
		return pc, nil
	})
	if err != nil {
		logLoadError(a.log, err, logrus.Fields{"user_id": userID, "project_id": projectID})
		return ProjectContext{}, err
	}

	return pc.Clone(), nil
}

// InvalidateUserProjectCache drops cached contexts of a user. With a projectID
// only that pair is dropped, otherwise every project of the user.
func (a *ProjectAccess) InvalidateUserProjectCache(userID, projectID string) {
	switch {
	case userID != "" && projectID != "":
		key := cache.Key(userID, projectID)
		a.group.Forget(key)
		a.cache.Invalidate(key)
	case userID != "":
		a.cache.InvalidatePattern(userID)
	case projectID != "":
		a.cache.InvalidatePattern(projectID)
	}
}

// InvalidateProjectCache drops every cached context of a project
func (a *ProjectAccess) InvalidateProjectCache(projectID string) {
	a.cache.InvalidatePattern(projectID)
}

// ClearCache drops every cached project context
func (a *ProjectAccess) ClearCache() {
	a.cache.Clear()
}

// CacheStats returns diagnostics for the project cache
func (a *ProjectAccess) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// ProjectChecker answers permission questions for one user and one project.
// Call LoadContext first; until then every check is denied.
type ProjectChecker struct {
	access  *ProjectAccess
	context *ProjectContext
}

// LoadContext loads and retains the context. On error the checker holds no
// context and keeps denying.
func (c *ProjectChecker) LoadContext(ctx context.Context, userID, projectID string) (ProjectContext, error) {
	c.context = nil
	pc, err := c.access.Load(ctx, userID, projectID)
	if err != nil {
		return ProjectContext{}, err
	}
	c.context = &pc
	return pc.Clone(), nil
}

// Context returns the loaded context, if any
func (c *ProjectChecker) Context() (ProjectContext, bool) {
	if c.context == nil {
		return ProjectContext{}, false
	}
	return c.context.Clone(), true
}

// HasPermission reports whether the loaded context grants permission
func (c *ProjectChecker) HasPermission(permission Permission) bool {
	if c.context == nil {
		return false
	}
	return c.context.Allows(permission)
}

// HasAccess reports whether the user can see the project at all
func (c *ProjectChecker) HasAccess() bool {
	return c.context != nil && c.context.HasAccess()
}

// EffectiveRole returns the most privileged role granted through teams
func (c *ProjectChecker) EffectiveRole() ProjectTeamRole {
	if c.context == nil {
		return ProjectRoleNone
	}
	return c.context.EffectiveRole()
}

// EffectivePermissions lists every granted permission
func (c *ProjectChecker) EffectivePermissions() []Permission {
	if c.context == nil {
		return []Permission{}
	}
	return c.context.Permissions()
}

func (c *ProjectChecker) CanViewProject() bool    { return c.HasPermission(PermProjectView) }
func (c *ProjectChecker) CanEditProject() bool    { return c.HasPermission(PermProjectEdit) }
func (c *ProjectChecker) CanDeleteProject() bool  { return c.HasPermission(PermProjectDelete) }
func (c *ProjectChecker) CanArchiveProject() bool { return c.HasPermission(PermProjectArchive) }
func (c *ProjectChecker) CanManageTeams() bool    { return c.HasPermission(PermProjectManageTeams) }
func (c *ProjectChecker) CanCreateColumns() bool  { return c.HasPermission(PermColumnCreate) }
func (c *ProjectChecker) CanEditColumns() bool    { return c.HasPermission(PermColumnEdit) }
func (c *ProjectChecker) CanDeleteColumns() bool  { return c.HasPermission(PermColumnDelete) }
func (c *ProjectChecker) CanReorderColumns() bool { return c.HasPermission(PermColumnReorder) }
func (c *ProjectChecker) CanCreateCards() bool    { return c.HasPermission(PermCardCreate) }
func (c *ProjectChecker) CanEditCards() bool      { return c.HasPermission(PermCardEdit) }
func (c *ProjectChecker) CanDeleteCards() bool    { return c.HasPermission(PermCardDelete) }
func (c *ProjectChecker) CanAssignCards() bool    { return c.HasPermission(PermCardAssign) }
func (c *ProjectChecker) CanMoveCards() bool      { return c.HasPermission(PermCardMove) }
func (c *ProjectChecker) CanComment() bool        { return c.HasPermission(PermCommentCreate) }
func (c *ProjectChecker) CanManageLabels() bool   { return c.HasPermission(PermLabelEdit) }
func (c *ProjectChecker) CanUploadFiles() bool    { return c.HasPermission(PermAttachmentUpload) }

// Allows reports whether the context grants permission. Owners are granted
// everything regardless of team grants.
func (c ProjectContext) Allows(permission Permission) bool {
	if c.IsProjectOwner {
		return true
	}
	return ProjectRoleIncludes(c.EffectiveRole(), permission)
}

// Permissions lists every permission the context grants
func (c ProjectContext) Permissions() []Permission {
	if c.IsProjectOwner {
		return AllProjectPermissions()
	}
	return PermissionsForProjectRole(c.EffectiveRole())
}

// TeamAccess owns the process-wide team context cache
type TeamAccess struct {
	cache  *cache.Store[TeamContext]
	loader TeamLoader
	group  singleflight.Group
	log    logrus.FieldLogger
}

// NewTeamAccess creates the team side of the engine
func NewTeamAccess(store *cache.Store[TeamContext], loader TeamLoader, log logrus.FieldLogger) *TeamAccess {
	return &TeamAccess{
		cache:  store,
		loader: loader,
		log:    loggerOrDiscard(log),
	}
}

// NewChecker returns a checker bound to the shared cache
func (a *TeamAccess) NewChecker() *TeamChecker {
	return &TeamChecker{access: a}
}

// Load returns the context for (userID, teamID), reading through the cache
func (a *TeamAccess) Load(ctx context.Context, userID, teamID string) (TeamContext, error) {
	key := cache.Key(userID, teamID)
	if tc, ok := a.cache.Get(key); ok {
		return tc.Clone(), nil
	}

	a.log.WithFields(logrus.Fields{"user_id": userID, "team_id": teamID}).
		Debug("team permission cache miss")

	tc, err := sharedLoad(ctx, &a.group, key, func(loadCtx context.Context) (TeamContext, error) {
		tc, err := a.loader.LoadTeamContext(loadCtx, userID, teamID)
		if err != nil {
			return TeamContext{}, err
		}
		a.cache.Set(key, tc.Clone())
		return tc, nil
	})
	if err != nil {
		logLoadError(a.log, err, logrus.Fields{"user_id": userID, "team_id": teamID})
		return TeamContext{}, err
	}

	return tc.Clone(), nil
}

// InvalidateUserTeamCache drops cached contexts of a user. With a teamID only
// that pair is dropped, otherwise every team of the user.
func (a *TeamAccess) InvalidateUserTeamCache(userID, teamID string) {
	switch {
	case userID != "" && teamID != "":
		key := cache.Key(userID, teamID)
		a.group.Forget(key)
		a.cache.Invalidate(key)
	case userID != "":
		a.cache.InvalidatePattern(userID)
	case teamID != "":
		a.cache.InvalidatePattern(teamID)
	}
}

// InvalidateTeamCache drops every cached context of a team
func (a *TeamAccess) InvalidateTeamCache(teamID string) {
	a.cache.InvalidatePattern(teamID)
}

// ClearCache drops every cached team context
func (a *TeamAccess) ClearCache() {
	a.cache.Clear()
}

// CacheStats returns diagnostics for the team cache
func (a *TeamAccess) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// TeamChecker answers permission questions for one user and one team
type TeamChecker struct {
	access  *TeamAccess
	context *TeamContext
}

// LoadContext loads and retains the context
func (c *TeamChecker) LoadContext(ctx context.Context, userID, teamID string) (TeamContext, error) {
	c.context = nil
	tc, err := c.access.Load(ctx, userID, teamID)
	if err != nil {
		return TeamContext{}, err
	}
	c.context = &tc
	return tc, nil
}

// Context returns the loaded context, if any
func (c *TeamChecker) Context() (TeamContext, bool) {
	if c.context == nil {
		return TeamContext{}, false
	}
	return *c.context, true
}

// HasPermission reports whether the loaded context grants permission
func (c *TeamChecker) HasPermission(permission Permission) bool {
	if c.context == nil {
		return false
	}
	return c.context.Allows(permission)
}

// HasAccess reports whether the user can see the team at all
func (c *TeamChecker) HasAccess() bool {
	return c.context != nil && c.context.HasAccess()
}

// EffectiveRole returns the user's team role
func (c *TeamChecker) EffectiveRole() TeamRole {
	if c.context == nil {
		return TeamRoleNone
	}
	return c.context.UserRole
}

// EffectivePermissions lists every granted permission
func (c *TeamChecker) EffectivePermissions() []Permission {
	if c.context == nil {
		return []Permission{}
	}
	return c.context.Permissions()
}

func (c *TeamChecker) CanViewTeam() bool      { return c.HasPermission(PermTeamView) }
func (c *TeamChecker) CanEditTeam() bool      { return c.HasPermission(PermTeamEdit) }
func (c *TeamChecker) CanDeleteTeam() bool    { return c.HasPermission(PermTeamDelete) }
func (c *TeamChecker) CanManageMembers() bool { return c.HasPermission(PermTeamManageMembers) }
func (c *TeamChecker) CanManageRoles() bool   { return c.HasPermission(PermTeamManageRoles) }
func (c *TeamChecker) CanInviteMembers() bool { return c.HasPermission(PermTeamInviteMembers) }
func (c *TeamChecker) CanRemoveMembers() bool { return c.HasPermission(PermTeamRemoveMembers) }
func (c *TeamChecker) CanLeaveTeam() bool     { return c.HasPermission(PermTeamLeave) }

// Allows reports whether the context grants permission. The team creator is
// granted everything.
func (c TeamContext) Allows(permission Permission) bool {
	if c.IsTeamCreator {
		return true
	}
	return TeamRoleIncludes(c.UserRole, permission)
}

// Permissions lists every permission the context grants
func (c TeamContext) Permissions() []Permission {
	if c.IsTeamCreator {
		return AllTeamPermissions()
	}
	return PermissionsForTeamRole(c.UserRole)
}

// sharedLoad runs load once per key for every concurrent caller. The load
// runs on a context detached from ctx and bounded by LoadTimeout; each caller
// stops waiting as soon as its own ctx is done.
func sharedLoad[T any](ctx context.Context, group *singleflight.Group, key string, load func(context.Context) (T, error)) (T, error) {
	ch := group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		return load(loadCtx)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, storageError("wait for permission context", ctx.Err())
	}
}

func logLoadError(log logrus.FieldLogger, err error, fields logrus.Fields) {
	entry := log.WithFields(fields).WithError(err)
	if errors.Is(err, ErrNotFound) {
		entry.Debug("permission context target not found")
		return
	}
	entry.Warn("failed to load permission context")
}

func loggerOrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
