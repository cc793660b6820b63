package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, db
}

func TestStoreFindProjectByID(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("with grants", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, name, owner_id FROM projects WHERE id = \$1`).
			WithArgs("p1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).AddRow("p1", "Roadmap", "u1"))
		mock.ExpectQuery(`SELECT team_id, role FROM project_teams WHERE project_id = \$1 ORDER BY team_id`).
			WithArgs("p1").
			WillReturnRows(sqlmock.NewRows([]string{"team_id", "role"}).
				AddRow("t1", "editor").
				AddRow("t2", "viewer"))

		project, err := store.FindProjectByID(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, project)
		assert.Equal(t, "u1", project.OwnerID)
		assert.Equal(t, []TeamGrant{
			{TeamID: "t1", ProjectRole: ProjectRoleEditor},
			{TeamID: "t2", ProjectRole: ProjectRoleViewer},
		}, project.TeamGrants)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, name, owner_id FROM projects`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		project, err := store.FindProjectByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, project)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, name, owner_id FROM projects`).
			WithArgs("p1").
			WillReturnError(fmt.Errorf("connection reset"))

		_, err := store.FindProjectByID(ctx, "p1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get project")

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreFindTeamByID(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name, creator_id FROM teams WHERE id = \$1`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "creator_id"}).AddRow("t1", "Platform", "u9"))

	team, err := store.FindTeamByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, &Team{ID: "t1", Name: "Platform", CreatorID: "u9"}, team)

	mock.ExpectQuery(`SELECT id, name, creator_id FROM teams`).
		WithArgs("t2").
		WillReturnError(sql.ErrNoRows)

	team, err = store.FindTeamByID(context.Background(), "t2")
	require.NoError(t, err)
	assert.Nil(t, team)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFindTeamMemberships(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT team_id, user_id, role FROM team_members WHERE user_id = \$1 ORDER BY team_id`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"team_id", "user_id", "role"}).
			AddRow("t1", "u1", "member").
			AddRow("t2", "u1", "owner"))

	memberships, err := store.FindTeamMembershipsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, memberships, 2)
	assert.Equal(t, TeamRoleOwner, memberships[1].Role)

	mock.ExpectQuery(`SELECT team_id, user_id, role FROM team_members WHERE team_id = \$1 AND user_id = \$2`).
		WithArgs("t1", "u2").
		WillReturnError(sql.ErrNoRows)

	membership, err := store.FindUserTeamMembership(ctx, "t1", "u2")
	require.NoError(t, err)
	assert.Nil(t, membership)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAddTeamMember(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO team_members \(team_id, user_id, role, added_at\) VALUES \(\$1, \$2, \$3, \$4\)`).
			WithArgs("t1", "u1", "member", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.AddTeamMember(ctx, "t1", "u1", TeamRoleMember))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already a member", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO team_members`).
			WithArgs("t1", "u1", "member", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		err := store.AddTeamMember(ctx, "t1", "u1", TeamRoleMember)
		assert.True(t, errors.Is(err, ErrAlreadyMember))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid role", func(t *testing.T) {
		err := store.AddTeamMember(ctx, "t1", "u1", "emperor")
		assert.True(t, errors.Is(err, ErrInvalidRole))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreRemoveTeamMember(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM team_members WHERE team_id = \$1 AND user_id = \$2`).
		WithArgs("t1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.RemoveTeamMember(ctx, "t1", "u1"))

	mock.ExpectExec(`DELETE FROM team_members WHERE team_id = \$1 AND user_id = \$2`).
		WithArgs("t1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, errors.Is(store.RemoveTeamMember(ctx, "t1", "u1"), ErrMembershipNotFound))

	mock.ExpectExec(`DELETE FROM team_members WHERE team_id = \$1 AND user_id = \$2`).
		WithArgs("t1", "u1").
		WillReturnResult(sqlmock.NewErrorResult(fmt.Errorf("rows affected error")))
	err := store.RemoveTeamMember(ctx, "t1", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateTeamMemberRole(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE team_members SET role = \$1 WHERE team_id = \$2 AND user_id = \$3`).
		WithArgs("admin", "t1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateTeamMemberRole(context.Background(), "t1", "u1", TeamRoleAdmin))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDeleteTeam(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("returns granted projects", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT project_id FROM project_teams WHERE team_id = \$1`).
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows([]string{"project_id"}).AddRow("p1").AddRow("p2"))
		mock.ExpectExec(`DELETE FROM project_teams WHERE team_id = \$1`).
			WithArgs("t1").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM team_members WHERE team_id = \$1`).
			WithArgs("t1").
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(`DELETE FROM teams WHERE id = \$1`).
			WithArgs("t1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		projectIDs, err := store.DeleteTeam(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, projectIDs)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing team rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT project_id FROM project_teams`).
			WithArgs("t9").
			WillReturnRows(sqlmock.NewRows([]string{"project_id"}))
		mock.ExpectExec(`DELETE FROM project_teams`).WithArgs("t9").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM team_members`).WithArgs("t9").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM teams`).WithArgs("t9").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := store.DeleteTeam(ctx, "t9")
		assert.True(t, errors.Is(err, ErrNotFound))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreTransferTeamOwnership(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT creator_id FROM teams WHERE id = \$1`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"creator_id"}).AddRow("u1"))
	mock.ExpectExec(`UPDATE teams SET creator_id = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("u2", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE team_members SET role = \$1 WHERE team_id = \$2 AND user_id = \$3`).
		WithArgs("owner", "t1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO team_members`).
		WithArgs("t1", "u2", "owner", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE team_members SET role = \$1 WHERE team_id = \$2 AND user_id = \$3`).
		WithArgs("admin", "t1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	previous, err := store.TransferTeamOwnership(context.Background(), "t1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", previous)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreTransferProjectOwnership(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_id FROM projects WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("u1"))
	mock.ExpectExec(`UPDATE projects SET owner_id = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("u2", sqlmock.AnyArg(), "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	previous, err := store.TransferProjectOwnership(ctx, "p1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", previous)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_id FROM projects WHERE id = \$1`).
		WithArgs("p9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err = store.TransferProjectOwnership(ctx, "p9", "u2")
	assert.Equal(t, "Project not found", err.Error())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreProjectGrants(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO project_teams \(project_id, team_id, role, granted_at\)`).
		WithArgs("p1", "t1", "editor", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.GrantProjectAccess(ctx, "p1", "t1", ProjectRoleEditor))

	assert.True(t, errors.Is(store.GrantProjectAccess(ctx, "p1", "t1", "owner"), ErrInvalidRole))

	mock.ExpectExec(`UPDATE project_teams SET role = \$1 WHERE project_id = \$2 AND team_id = \$3`).
		WithArgs("viewer", "p1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateProjectTeamRole(ctx, "p1", "t1", ProjectRoleViewer))

	mock.ExpectExec(`DELETE FROM project_teams WHERE project_id = \$1 AND team_id = \$2`).
		WithArgs("p1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, errors.Is(store.RevokeProjectAccess(ctx, "p1", "t1"), ErrGrantNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDeleteProject(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM project_teams WHERE project_id = \$1`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM projects WHERE id = \$1`).
		WithArgs("p1").
		WillReturnError(fmt.Errorf("lock timeout"))
	mock.ExpectRollback()

	err := store.DeleteProject(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete project")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRemoveUserMemberships(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM team_members WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.RemoveUserMemberships(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS boardperm_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM boardperm_migrations ORDER BY version`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS project_teams`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO boardperm_migrations \(version, description\) VALUES \(\$1, \$2\)`).
		WithArgs(4, "Create project_teams table").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := RunMigrations(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
