package rbac

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Scope selects which permission cache an invalidation targets
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeTeam    Scope = "team"
)

// Invalidation is one cache eviction instruction.
//
//	UserID + ResourceID  -> the single "{user}:{resource}" entry
//	UserID only          -> every entry of the user
//	ResourceID only      -> every entry of the resource
//	All                  -> the whole cache
type Invalidation struct {
	Scope      Scope  `json:"scope"`
	UserID     string `json:"user_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	All        bool   `json:"all,omitempty"`
}

// Publisher forwards invalidations to other processes sharing the database
type Publisher interface {
	Publish(ctx context.Context, batch []Invalidation) error
}

// Invalidator translates role, membership and ownership changes into cache
// evictions. Every write that changes one of those facts must call the
// matching method after the write succeeds. Methods do no persistence I/O and
// are idempotent.
type Invalidator struct {
	projects  *ProjectAccess
	teams     *TeamAccess
	publisher Publisher
	log       logrus.FieldLogger
}

// NewInvalidator creates an invalidator over both caches
func NewInvalidator(projects *ProjectAccess, teams *TeamAccess, log logrus.FieldLogger) *Invalidator {
	return &Invalidator{
		projects: projects,
		teams:    teams,
		log:      loggerOrDiscard(log),
	}
}

// SetPublisher makes every event also reach other processes
func (m *Invalidator) SetPublisher(p Publisher) {
	m.publisher = p
}

// UserAddedToTeam must be called after a user joins a team. The user's project
// contexts change for every project the team can reach.
func (m *Invalidator) UserAddedToTeam(ctx context.Context, userID, teamID string) {
	m.emit(ctx, "user_added_to_team",
		Invalidation{Scope: ScopeTeam, UserID: userID, ResourceID: teamID},
		Invalidation{Scope: ScopeProject, UserID: userID},
	)
}

// UserRemovedFromTeam must be called after a user leaves or is removed from a team
func (m *Invalidator) UserRemovedFromTeam(ctx context.Context, userID, teamID string) {
	m.emit(ctx, "user_removed_from_team",
		Invalidation{Scope: ScopeTeam, UserID: userID, ResourceID: teamID},
		Invalidation{Scope: ScopeProject, UserID: userID},
	)
}

// TeamRoleChanged must be called after a member's team role changes
func (m *Invalidator) TeamRoleChanged(ctx context.Context, userID, teamID string) {
	m.emit(ctx, "team_role_changed",
		Invalidation{Scope: ScopeTeam, UserID: userID, ResourceID: teamID},
		Invalidation{Scope: ScopeProject, UserID: userID},
	)
}

// TeamOwnershipTransferred must be called after the team creator changes
func (m *Invalidator) TeamOwnershipTransferred(ctx context.Context, teamID, previousOwnerID, newOwnerID string) {
	m.emit(ctx, "team_ownership_transferred",
		Invalidation{Scope: ScopeTeam, ResourceID: teamID},
		Invalidation{Scope: ScopeProject, UserID: previousOwnerID},
		Invalidation{Scope: ScopeProject, UserID: newOwnerID},
	)
}

// TeamDeleted must be called after a team is deleted. projectIDs are the
// projects the team had grants on; when unknown the whole project cache is
// dropped.
func (m *Invalidator) TeamDeleted(ctx context.Context, teamID string, projectIDs ...string) {
	batch := []Invalidation{{Scope: ScopeTeam, ResourceID: teamID}}
	if len(projectIDs) == 0 {
		batch = append(batch, Invalidation{Scope: ScopeProject, All: true})
	}
	for _, projectID := range projectIDs {
		batch = append(batch, Invalidation{Scope: ScopeProject, ResourceID: projectID})
	}
	m.emit(ctx, "team_deleted", batch...)
}

// TeamSettingsChanged must be called after team settings are updated
func (m *Invalidator) TeamSettingsChanged(ctx context.Context, teamID string) {
	m.emit(ctx, "team_settings_changed",
		Invalidation{Scope: ScopeTeam, ResourceID: teamID},
	)
}

// TeamProjectAccessGranted must be called after a team is granted a project
func (m *Invalidator) TeamProjectAccessGranted(ctx context.Context, teamID, projectID string) {
	m.emit(ctx, "team_project_access_granted",
		Invalidation{Scope: ScopeProject, ResourceID: projectID},
	)
}

// TeamProjectAccessRevoked must be called after a team loses access to a project
func (m *Invalidator) TeamProjectAccessRevoked(ctx context.Context, teamID, projectID string) {
	m.emit(ctx, "team_project_access_revoked",
		Invalidation{Scope: ScopeProject, ResourceID: projectID},
	)
}

// TeamProjectRoleChanged must be called after a team's role on a project changes
func (m *Invalidator) TeamProjectRoleChanged(ctx context.Context, teamID, projectID string) {
	m.emit(ctx, "team_project_role_changed",
		Invalidation{Scope: ScopeProject, ResourceID: projectID},
	)
}

// ProjectOwnershipTransferred must be called after a project's owner changes
func (m *Invalidator) ProjectOwnershipTransferred(ctx context.Context, projectID, previousOwnerID, newOwnerID string) {
	m.emit(ctx, "project_ownership_transferred",
		Invalidation{Scope: ScopeProject, ResourceID: projectID},
	)
}

// ProjectDeleted must be called after a project is deleted
func (m *Invalidator) ProjectDeleted(ctx context.Context, projectID string) {
	m.emit(ctx, "project_deleted",
		Invalidation{Scope: ScopeProject, ResourceID: projectID},
	)
}

// ProjectSettingsChanged must be called after project settings are updated
func (m *Invalidator) ProjectSettingsChanged(ctx context.Context, projectID string) {
	m.emit(ctx, "project_settings_changed",
		Invalidation{Scope: ScopeProject, ResourceID: projectID},
	)
}

// UserInvalidated drops everything cached for a user, e.g. when the user is
// suspended or deleted.
func (m *Invalidator) UserInvalidated(ctx context.Context, userID string) {
	m.emit(ctx, "user_invalidated",
		Invalidation{Scope: ScopeTeam, UserID: userID},
		Invalidation{Scope: ScopeProject, UserID: userID},
	)
}

// Apply evicts locally without publishing. Used for batches received from
// other processes.
func (m *Invalidator) Apply(batch []Invalidation) {
	for _, inv := range batch {
		m.applyOne(inv)
	}
}

func (m *Invalidator) emit(ctx context.Context, event string, batch ...Invalidation) {
	m.Apply(batch)

	m.log.WithFields(logrus.Fields{"event": event, "invalidations": len(batch)}).
		Debug("permission cache invalidated")

	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, batch); err != nil {
		// Local caches are already clean; other processes fall back to the TTL.
		m.log.WithError(err).WithField("event", event).Warn("failed to publish permission cache invalidation")
	}
}

func (m *Invalidator) applyOne(inv Invalidation) {
	switch inv.Scope {
	case ScopeProject:
		if m.projects == nil {
			return
		}
		if inv.All {
			m.projects.ClearCache()
			return
		}
		m.projects.InvalidateUserProjectCache(inv.UserID, inv.ResourceID)
	case ScopeTeam:
		if m.teams == nil {
			return
		}
		if inv.All {
			m.teams.ClearCache()
			return
		}
		m.teams.InvalidateUserTeamCache(inv.UserID, inv.ResourceID)
	default:
		m.log.WithField("scope", inv.Scope).Warn("ignoring invalidation with unknown scope")
	}
}
