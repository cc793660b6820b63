package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// Store persists teams, projects, memberships and project grants. It is the
// Repository used by the ContextLoader and the Writer used by Service.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindProjectByID returns the project with its team grants, or nil if absent
func (s *Store) FindProjectByID(ctx context.Context, projectID string) (*Project, error) {
	query := `SELECT id, name, owner_id FROM projects WHERE id = $1`

	var p Project
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(&p.ID, &p.Name, &p.OwnerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	grants, err := s.listProjectGrants(ctx, projectID)
	if err != nil {
		return nil, err
	}
	p.TeamGrants = grants

	return &p, nil
}

func (s *Store) listProjectGrants(ctx context.Context, projectID string) ([]TeamGrant, error) {
	query := `SELECT team_id, role FROM project_teams WHERE project_id = $1 ORDER BY team_id`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project grants: %w", err)
	}
	defer rows.Close()

	grants := []TeamGrant{}
	for rows.Next() {
		var g TeamGrant
		if err := rows.Scan(&g.TeamID, &g.ProjectRole); err != nil {
			return nil, fmt.Errorf("failed to scan project grant: %w", err)
		}
		grants = append(grants, g)
	}

	return grants, rows.Err()
}

// FindTeamByID returns the team, or nil if absent
func (s *Store) FindTeamByID(ctx context.Context, teamID string) (*Team, error) {
	query := `SELECT id, name, creator_id FROM teams WHERE id = $1`

	var t Team
	err := s.db.QueryRowContext(ctx, query, teamID).Scan(&t.ID, &t.Name, &t.CreatorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	return &t, nil
}

// FindTeamMembershipsForUser returns every team membership of a user
func (s *Store) FindTeamMembershipsForUser(ctx context.Context, userID string) ([]TeamMembership, error) {
	query := `SELECT team_id, user_id, role FROM team_members WHERE user_id = $1 ORDER BY team_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team memberships: %w", err)
	}
	defer rows.Close()

	memberships := []TeamMembership{}
	for rows.Next() {
		var m TeamMembership
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan team membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// FindUserTeamMembership returns the user's membership in a team, or nil
func (s *Store) FindUserTeamMembership(ctx context.Context, teamID, userID string) (*TeamMembership, error) {
	query := `SELECT team_id, user_id, role FROM team_members WHERE team_id = $1 AND user_id = $2`

	var m TeamMembership
	err := s.db.QueryRowContext(ctx, query, teamID, userID).Scan(&m.TeamID, &m.UserID, &m.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team membership: %w", err)
	}

	return &m, nil
}

// CreateTeam inserts a team and makes its creator an owner member
func (s *Store) CreateTeam(ctx context.Context, team *Team) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO teams (id, name, creator_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			team.ID, team.Name, team.CreatorID, now, now)
		if err != nil {
			return fmt.Errorf("failed to create team: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO team_members (team_id, user_id, role, added_at) VALUES ($1, $2, $3, $4)`,
			team.ID, team.CreatorID, TeamRoleOwner, now)
		if err != nil {
			return fmt.Errorf("failed to add team creator: %w", err)
		}
		return nil
	})
}

// UpdateTeamName renames a team
func (s *Store) UpdateTeamName(ctx context.Context, teamID, name string) error {
	query := `UPDATE teams SET name = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, name, time.Now(), teamID)
	if err != nil {
		return fmt.Errorf("failed to update team: %w", err)
	}
	return expectAffected(result, teamNotFound(teamID))
}

// DeleteTeam removes a team with its members and grants. It returns the
// projects the team had grants on.
func (s *Store) DeleteTeam(ctx context.Context, teamID string) ([]string, error) {
	var projectIDs []string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT project_id FROM project_teams WHERE team_id = $1 ORDER BY project_id`, teamID)
		if err != nil {
			return fmt.Errorf("failed to list team grants: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan team grant: %w", err)
			}
			projectIDs = append(projectIDs, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM project_teams WHERE team_id = $1`, teamID); err != nil {
			return fmt.Errorf("failed to delete team grants: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1`, teamID); err != nil {
			return fmt.Errorf("failed to delete team members: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
		if err != nil {
			return fmt.Errorf("failed to delete team: %w", err)
		}
		return expectAffected(result, teamNotFound(teamID))
	})
	if err != nil {
		return nil, err
	}

	return projectIDs, nil
}

// TransferTeamOwnership makes newOwnerID the team creator and an owner member.
// The previous creator is demoted to admin. It returns the previous creator.
func (s *Store) TransferTeamOwnership(ctx context.Context, teamID, newOwnerID string) (string, error) {
	var previousOwnerID string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT creator_id FROM teams WHERE id = $1`, teamID).Scan(&previousOwnerID)
		if err == sql.ErrNoRows {
			return teamNotFound(teamID)
		}
		if err != nil {
			return fmt.Errorf("failed to get team: %w", err)
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE teams SET creator_id = $1, updated_at = $2 WHERE id = $3`, newOwnerID, now, teamID); err != nil {
			return fmt.Errorf("failed to update team creator: %w", err)
		}

		result, err := tx.ExecContext(ctx, `UPDATE team_members SET role = $1 WHERE team_id = $2 AND user_id = $3`, TeamRoleOwner, teamID, newOwnerID)
		if err != nil {
			return fmt.Errorf("failed to promote new owner: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO team_members (team_id, user_id, role, added_at) VALUES ($1, $2, $3, $4)`,
				teamID, newOwnerID, TeamRoleOwner, now); err != nil {
				return fmt.Errorf("failed to add new owner: %w", err)
			}
		}

		if previousOwnerID != newOwnerID {
			if _, err := tx.ExecContext(ctx, `UPDATE team_members SET role = $1 WHERE team_id = $2 AND user_id = $3`, TeamRoleAdmin, teamID, previousOwnerID); err != nil {
				return fmt.Errorf("failed to demote previous owner: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return previousOwnerID, nil
}

// AddTeamMember adds a user to a team with a role
func (s *Store) AddTeamMember(ctx context.Context, teamID, userID string, role TeamRole) error {
	if !role.Valid() {
		return ErrInvalidRole
	}

	query := `INSERT INTO team_members (team_id, user_id, role, added_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, query, teamID, userID, role, time.Now()); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// RemoveTeamMember removes a user from a team
func (s *Store) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	query := `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`
	result, err := s.db.ExecContext(ctx, query, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return expectAffected(result, ErrMembershipNotFound)
}

// UpdateTeamMemberRole changes a member's role
func (s *Store) UpdateTeamMemberRole(ctx context.Context, teamID, userID string, role TeamRole) error {
	if !role.Valid() {
		return ErrInvalidRole
	}

	query := `UPDATE team_members SET role = $1 WHERE team_id = $2 AND user_id = $3`
	result, err := s.db.ExecContext(ctx, query, role, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to update team member role: %w", err)
	}
	return expectAffected(result, ErrMembershipNotFound)
}

// RemoveUserMemberships removes a user from every team
func (s *Store) RemoveUserMemberships(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove user memberships: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// CreateProject inserts a project owned by project.OwnerID
func (s *Store) CreateProject(ctx context.Context, project *Project) error {
	now := time.Now()
	query := `INSERT INTO projects (id, name, owner_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, project.ID, project.Name, project.OwnerID, now, now); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// UpdateProjectName renames a project
func (s *Store) UpdateProjectName(ctx context.Context, projectID, name string) error {
	query := `UPDATE projects SET name = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, name, time.Now(), projectID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return expectAffected(result, projectNotFound(projectID))
}

// DeleteProject removes a project and its grants
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_teams WHERE project_id = $1`, projectID); err != nil {
			return fmt.Errorf("failed to delete project grants: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
		if err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		return expectAffected(result, projectNotFound(projectID))
	})
}

// TransferProjectOwnership sets a new owner and returns the previous one
func (s *Store) TransferProjectOwnership(ctx context.Context, projectID, newOwnerID string) (string, error) {
	var previousOwnerID string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id = $1`, projectID).Scan(&previousOwnerID)
		if err == sql.ErrNoRows {
			return projectNotFound(projectID)
		}
		if err != nil {
			return fmt.Errorf("failed to get project: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE projects SET owner_id = $1, updated_at = $2 WHERE id = $3`, newOwnerID, time.Now(), projectID); err != nil {
			return fmt.Errorf("failed to update project owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return previousOwnerID, nil
}

// GrantProjectAccess gives a team a role on a project, replacing any existing grant
func (s *Store) GrantProjectAccess(ctx context.Context, projectID, teamID string, role ProjectTeamRole) error {
	if !role.Valid() {
		return ErrInvalidRole
	}

	query := `
		INSERT INTO project_teams (project_id, team_id, role, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, team_id) DO UPDATE SET role = EXCLUDED.role, granted_at = EXCLUDED.granted_at
	`
	if _, err := s.db.ExecContext(ctx, query, projectID, teamID, role, time.Now()); err != nil {
		return fmt.Errorf("failed to grant project access: %w", err)
	}
	return nil
}

// RevokeProjectAccess removes a team's grant on a project
func (s *Store) RevokeProjectAccess(ctx context.Context, projectID, teamID string) error {
	query := `DELETE FROM project_teams WHERE project_id = $1 AND team_id = $2`
	result, err := s.db.ExecContext(ctx, query, projectID, teamID)
	if err != nil {
		return fmt.Errorf("failed to revoke project access: %w", err)
	}
	return expectAffected(result, ErrGrantNotFound)
}

// UpdateProjectTeamRole changes the role of an existing grant
func (s *Store) UpdateProjectTeamRole(ctx context.Context, projectID, teamID string, role ProjectTeamRole) error {
	if !role.Valid() {
		return ErrInvalidRole
	}

	query := `UPDATE project_teams SET role = $1 WHERE project_id = $2 AND team_id = $3`
	result, err := s.db.ExecContext(ctx, query, role, projectID, teamID)
	if err != nil {
		return fmt.Errorf("failed to update project team role: %w", err)
	}
	return expectAffected(result, ErrGrantNotFound)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func expectAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
