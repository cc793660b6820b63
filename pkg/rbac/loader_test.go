package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRepository is an in-memory Repository for tests
type memoryRepository struct {
	projects    map[string]*Project
	teams       map[string]*Team
	memberships map[string][]TeamMembership // by user
	err         error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		projects:    map[string]*Project{},
		teams:       map[string]*Team{},
		memberships: map[string][]TeamMembership{},
	}
}

func (r *memoryRepository) addMember(teamID, userID string, role TeamRole) {
	r.memberships[userID] = append(r.memberships[userID], TeamMembership{TeamID: teamID, UserID: userID, Role: role})
}

func (r *memoryRepository) FindProjectByID(ctx context.Context, projectID string) (*Project, error) {
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.projects[projectID]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.TeamGrants = append([]TeamGrant(nil), p.TeamGrants...)
	return &cp, nil
}

func (r *memoryRepository) FindTeamByID(ctx context.Context, teamID string) (*Team, error) {
	if r.err != nil {
		return nil, r.err
	}
	t, ok := r.teams[teamID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memoryRepository) FindTeamMembershipsForUser(ctx context.Context, userID string) ([]TeamMembership, error) {
	if r.err != nil {
		return nil, r.err
	}
	return append([]TeamMembership(nil), r.memberships[userID]...), nil
}

func (r *memoryRepository) FindUserTeamMembership(ctx context.Context, teamID, userID string) (*TeamMembership, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, m := range r.memberships[userID] {
		if m.TeamID == teamID {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func TestLoadProjectContext(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := newMemoryRepository()
	repo.projects["p1"] = &Project{ID: "p1", OwnerID: "owner", TeamGrants: []TeamGrant{
		{TeamID: "t1", ProjectRole: ProjectRoleEditor},
		{TeamID: "t2", ProjectRole: ProjectRoleViewer},
		{TeamID: "t3", ProjectRole: ProjectRoleAdmin},
	}}
	repo.addMember("t1", "alice", TeamRoleMember)
	repo.addMember("t2", "alice", TeamRoleViewer)
	repo.addMember("t9", "alice", TeamRoleOwner)

	loader := NewContextLoader(repo, clock)
	ctx := context.Background()

	t.Run("member of granted teams", func(t *testing.T) {
		pc, err := loader.LoadProjectContext(ctx, "alice", "p1")
		require.NoError(t, err)
		assert.False(t, pc.IsProjectOwner)
		assert.Equal(t, []TeamGrant{
			{TeamID: "t1", ProjectRole: ProjectRoleEditor},
			{TeamID: "t2", ProjectRole: ProjectRoleViewer},
		}, pc.TeamMemberships)
		assert.Equal(t, clock.Now(), pc.ResolvedAt)
	})

	t.Run("owner", func(t *testing.T) {
		pc, err := loader.LoadProjectContext(ctx, "owner", "p1")
		require.NoError(t, err)
		assert.True(t, pc.IsProjectOwner)
		assert.Empty(t, pc.TeamMemberships)
	})

	t.Run("stranger", func(t *testing.T) {
		pc, err := loader.LoadProjectContext(ctx, "mallory", "p1")
		require.NoError(t, err)
		assert.False(t, pc.HasAccess())
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := loader.LoadProjectContext(ctx, "alice", "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, "Project not found", err.Error())
	})
}

func TestLoadProjectContextStorageFailure(t *testing.T) {
	cause := errors.New("connection refused")
	repo := newMemoryRepository()
	repo.err = cause

	_, err := NewContextLoader(repo, nil).LoadProjectContext(context.Background(), "alice", "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestLoadProjectContextCancelled(t *testing.T) {
	repo := newMemoryRepository()
	repo.projects["p1"] = &Project{ID: "p1", OwnerID: "alice"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewContextLoader(repo, nil).LoadProjectContext(ctx, "alice", "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadTeamContext(t *testing.T) {
	repo := newMemoryRepository()
	repo.teams["t1"] = &Team{ID: "t1", CreatorID: "carol"}
	repo.addMember("t1", "alice", TeamRoleAdmin)
	repo.addMember("t1", "bob", "emperor")

	loader := NewContextLoader(repo, clockwork.NewFakeClock())
	ctx := context.Background()

	tc, err := loader.LoadTeamContext(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, TeamRoleAdmin, tc.UserRole)
	assert.False(t, tc.IsTeamCreator)

	tc, err = loader.LoadTeamContext(ctx, "carol", "t1")
	require.NoError(t, err)
	assert.True(t, tc.IsTeamCreator)
	assert.Equal(t, TeamRoleNone, tc.UserRole)

	// Unknown roles in storage resolve to no role.
	tc, err = loader.LoadTeamContext(ctx, "bob", "t1")
	require.NoError(t, err)
	assert.Equal(t, TeamRoleNone, tc.UserRole)
	assert.False(t, tc.HasAccess())

	_, err = loader.LoadTeamContext(ctx, "alice", "missing")
	require.Error(t, err)
	assert.Equal(t, "Team not found", err.Error())

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ID)
}

func TestReachableGrants(t *testing.T) {
	grants := []TeamGrant{
		{TeamID: "t1", ProjectRole: ProjectRoleViewer},
		{TeamID: "t1", ProjectRole: ProjectRoleAdmin},
		{TeamID: "t2", ProjectRole: "bogus"},
		{TeamID: "t3", ProjectRole: ProjectRoleEditor},
	}
	memberships := []TeamMembership{{TeamID: "t1"}, {TeamID: "t2"}}

	got := reachableGrants(grants, memberships)
	assert.Equal(t, []TeamGrant{{TeamID: "t1", ProjectRole: ProjectRoleAdmin}}, got)

	assert.Empty(t, reachableGrants(grants, nil))
}

func TestStorageErrorDoesNotDoubleWrap(t *testing.T) {
	inner := storageError("find project", errors.New("boom"))
	outer := storageError("load", inner)
	assert.Same(t, inner, outer)
	assert.Equal(t, "find project: boom", outer.Error())
}
