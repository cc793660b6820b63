package rbac

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Writer is the write side of the persistence collaborator
type Writer interface {
	CreateTeam(ctx context.Context, team *Team) error
	UpdateTeamName(ctx context.Context, teamID, name string) error
	DeleteTeam(ctx context.Context, teamID string) ([]string, error)
	TransferTeamOwnership(ctx context.Context, teamID, newOwnerID string) (string, error)
	AddTeamMember(ctx context.Context, teamID, userID string, role TeamRole) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error
	UpdateTeamMemberRole(ctx context.Context, teamID, userID string, role TeamRole) error
	RemoveUserMemberships(ctx context.Context, userID string) (int64, error)

	CreateProject(ctx context.Context, project *Project) error
	UpdateProjectName(ctx context.Context, projectID, name string) error
	DeleteProject(ctx context.Context, projectID string) error
	TransferProjectOwnership(ctx context.Context, projectID, newOwnerID string) (string, error)
	GrantProjectAccess(ctx context.Context, projectID, teamID string, role ProjectTeamRole) error
	RevokeProjectAccess(ctx context.Context, projectID, teamID string) error
	UpdateProjectTeamRole(ctx context.Context, projectID, teamID string, role ProjectTeamRole) error
}

// Service performs membership, role and ownership writes and emits the
// matching invalidation once each write has succeeded. Callers that go
// through Service cannot forget to invalidate.
type Service struct {
	store       Writer
	invalidator *Invalidator
	log         logrus.FieldLogger
}

// NewService creates a mutation service
func NewService(store Writer, invalidator *Invalidator, log logrus.FieldLogger) *Service {
	return &Service{
		store:       store,
		invalidator: invalidator,
		log:         loggerOrDiscard(log),
	}
}

// CreateTeam creates a team whose creator becomes its owner
func (s *Service) CreateTeam(ctx context.Context, team *Team) error {
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return err
	}
	s.invalidator.UserAddedToTeam(ctx, team.CreatorID, team.ID)
	return nil
}

// RenameTeam updates team settings
func (s *Service) RenameTeam(ctx context.Context, teamID, name string) error {
	if err := s.store.UpdateTeamName(ctx, teamID, name); err != nil {
		return err
	}
	s.invalidator.TeamSettingsChanged(ctx, teamID)
	return nil
}

// DeleteTeam deletes a team along with its memberships and grants
func (s *Service) DeleteTeam(ctx context.Context, teamID string) error {
	projectIDs, err := s.store.DeleteTeam(ctx, teamID)
	if err != nil {
		return err
	}
	s.invalidator.TeamDeleted(ctx, teamID, projectIDs...)

	s.log.WithFields(logrus.Fields{"team_id": teamID, "projects": len(projectIDs)}).Info("team deleted")
	return nil
}

// TransferTeamOwnership hands the team to another user
func (s *Service) TransferTeamOwnership(ctx context.Context, teamID, newOwnerID string) error {
	previousOwnerID, err := s.store.TransferTeamOwnership(ctx, teamID, newOwnerID)
	if err != nil {
		return err
	}
	s.invalidator.TeamOwnershipTransferred(ctx, teamID, previousOwnerID, newOwnerID)
	return nil
}

// AddTeamMember adds a user to a team
func (s *Service) AddTeamMember(ctx context.Context, teamID, userID string, role TeamRole) error {
	if err := s.store.AddTeamMember(ctx, teamID, userID, role); err != nil {
		return err
	}
	s.invalidator.UserAddedToTeam(ctx, userID, teamID)
	return nil
}

// RemoveTeamMember removes a user from a team. Also used when a member leaves.
func (s *Service) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	if err := s.store.RemoveTeamMember(ctx, teamID, userID); err != nil {
		return err
	}
	s.invalidator.UserRemovedFromTeam(ctx, userID, teamID)
	return nil
}

// ChangeTeamRole changes a member's team role
func (s *Service) ChangeTeamRole(ctx context.Context, teamID, userID string, role TeamRole) error {
	if err := s.store.UpdateTeamMemberRole(ctx, teamID, userID, role); err != nil {
		return err
	}
	s.invalidator.TeamRoleChanged(ctx, userID, teamID)
	return nil
}

// DeactivateUser removes the user from every team and drops all of their
// cached contexts
func (s *Service) DeactivateUser(ctx context.Context, userID string) error {
	removed, err := s.store.RemoveUserMemberships(ctx, userID)
	if err != nil {
		return err
	}
	s.invalidator.UserInvalidated(ctx, userID)

	s.log.WithFields(logrus.Fields{"user_id": userID, "memberships": removed}).Info("user deactivated")
	return nil
}

// CreateProject creates a project owned by project.OwnerID
func (s *Service) CreateProject(ctx context.Context, project *Project) error {
	if err := s.store.CreateProject(ctx, project); err != nil {
		return err
	}
	s.invalidator.ProjectSettingsChanged(ctx, project.ID)
	return nil
}

// RenameProject updates project settings
func (s *Service) RenameProject(ctx context.Context, projectID, name string) error {
	if err := s.store.UpdateProjectName(ctx, projectID, name); err != nil {
		return err
	}
	s.invalidator.ProjectSettingsChanged(ctx, projectID)
	return nil
}

// DeleteProject deletes a project and its grants
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.invalidator.ProjectDeleted(ctx, projectID)
	return nil
}

// TransferProjectOwnership hands the project to another user
func (s *Service) TransferProjectOwnership(ctx context.Context, projectID, newOwnerID string) error {
	previousOwnerID, err := s.store.TransferProjectOwnership(ctx, projectID, newOwnerID)
	if err != nil {
		return err
	}
	s.invalidator.ProjectOwnershipTransferred(ctx, projectID, previousOwnerID, newOwnerID)
	return nil
}

// GrantProjectAccess gives a team a role on a project
func (s *Service) GrantProjectAccess(ctx context.Context, projectID, teamID string, role ProjectTeamRole) error {
	if err := s.store.GrantProjectAccess(ctx, projectID, teamID, role); err != nil {
		return err
	}
	s.invalidator.TeamProjectAccessGranted(ctx, teamID, projectID)
	return nil
}

// RevokeProjectAccess removes a team's access to a project
func (s *Service) RevokeProjectAccess(ctx context.Context, projectID, teamID string) error {
	if err := s.store.RevokeProjectAccess(ctx, projectID, teamID); err != nil {
		return err
	}
	s.invalidator.TeamProjectAccessRevoked(ctx, teamID, projectID)
	return nil
}

// ChangeProjectTeamRole changes the role a team holds on a project
func (s *Service) ChangeProjectTeamRole(ctx context.Context, projectID, teamID string, role ProjectTeamRole) error {
	if err := s.store.UpdateProjectTeamRole(ctx, projectID, teamID, role); err != nil {
		return err
	}
	s.invalidator.TeamProjectRoleChanged(ctx, teamID, projectID)
	return nil
}
