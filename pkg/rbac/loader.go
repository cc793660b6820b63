package rbac

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/boardperm/pkg/rbac"

// Repository is the read side of the persistence collaborator. Finders return
// (nil, nil) when the row does not exist.
type Repository interface {
	FindProjectByID(ctx context.Context, projectID string) (*Project, error)
	FindTeamByID(ctx context.Context, teamID string) (*Team, error)
	FindTeamMembershipsForUser(ctx context.Context, userID string) ([]TeamMembership, error)
	FindUserTeamMembership(ctx context.Context, teamID, userID string) (*TeamMembership, error)
}

// ContextLoader computes fresh permission contexts from the repository.
// It knows nothing about caching.
type ContextLoader struct {
	repo   Repository
	clock  clockwork.Clock
	tracer trace.Tracer
}

// NewContextLoader creates a loader. A nil clock means the real clock.
func NewContextLoader(repo Repository, clock clockwork.Clock) *ContextLoader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ContextLoader{
		repo:   repo,
		clock:  clock,
		tracer: otel.Tracer(tracerName),
	}
}

// LoadProjectContext resolves ownership and the team grants that reach the user
func (l *ContextLoader) LoadProjectContext(ctx context.Context, userID, projectID string) (ProjectContext, error) {
	ctx, span := l.tracer.Start(ctx, "rbac.LoadProjectContext", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("project.id", projectID),
	))
	defer span.End()

	pc, err := l.loadProjectContext(ctx, userID, projectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ProjectContext{}, err
	}

	span.SetAttributes(
		attribute.Bool("project.owner", pc.IsProjectOwner),
		attribute.Int("project.team_memberships", len(pc.TeamMemberships)),
	)
	return pc, nil
}

func (l *ContextLoader) loadProjectContext(ctx context.Context, userID, projectID string) (ProjectContext, error) {
	project, err := l.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return ProjectContext{}, storageError("find project", err)
	}
	if project == nil {
		return ProjectContext{}, projectNotFound(projectID)
	}

	memberships, err := l.repo.FindTeamMembershipsForUser(ctx, userID)
	if err != nil {
		return ProjectContext{}, storageError("find team memberships", err)
	}

	// A deadline that fires after the last query still must not produce a
	// context that gets cached.
	if err := ctx.Err(); err != nil {
		return ProjectContext{}, storageError("load project context", err)
	}

	return ProjectContext{
		IsProjectOwner:  project.OwnerID != "" && project.OwnerID == userID,
		TeamMemberships: reachableGrants(project.TeamGrants, memberships),
		ResolvedAt:      l.clock.Now(),
	}, nil
}

// LoadTeamContext resolves the user's role in the team and creator status
func (l *ContextLoader) LoadTeamContext(ctx context.Context, userID, teamID string) (TeamContext, error) {
	ctx, span := l.tracer.Start(ctx, "rbac.LoadTeamContext", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("team.id", teamID),
	))
	defer span.End()

	tc, err := l.loadTeamContext(ctx, userID, teamID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TeamContext{}, err
	}

	span.SetAttributes(
		attribute.Bool("team.creator", tc.IsTeamCreator),
		attribute.String("team.role", string(tc.UserRole)),
	)
	return tc, nil
}

func (l *ContextLoader) loadTeamContext(ctx context.Context, userID, teamID string) (TeamContext, error) {
	team, err := l.repo.FindTeamByID(ctx, teamID)
	if err != nil {
		return TeamContext{}, storageError("find team", err)
	}
	if team == nil {
		return TeamContext{}, teamNotFound(teamID)
	}

	membership, err := l.repo.FindUserTeamMembership(ctx, teamID, userID)
	if err != nil {
		return TeamContext{}, storageError("find team membership", err)
	}

	if err := ctx.Err(); err != nil {
		return TeamContext{}, storageError("load team context", err)
	}

	tc := TeamContext{
		IsTeamCreator: team.CreatorID != "" && team.CreatorID == userID,
		ResolvedAt:    l.clock.Now(),
	}
	if membership != nil && membership.Role.Valid() {
		tc.UserRole = membership.Role
	}
	return tc, nil
}

// reachableGrants keeps the project grants of teams the user belongs to,
// one entry per team holding the most privileged role seen for it.
func reachableGrants(grants []TeamGrant, memberships []TeamMembership) []TeamGrant {
	member := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		member[m.TeamID] = struct{}{}
	}

	out := make([]TeamGrant, 0, len(grants))
	index := make(map[string]int, len(grants))
	for _, g := range grants {
		if _, ok := member[g.TeamID]; !ok || !g.ProjectRole.Valid() {
			continue
		}
		if i, seen := index[g.TeamID]; seen {
			out[i].ProjectRole = MaxProjectRole(out[i].ProjectRole, g.ProjectRole)
			continue
		}
		index[g.TeamID] = len(out)
		out = append(out, g)
	}
	return out
}
