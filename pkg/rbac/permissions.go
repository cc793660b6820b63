package rbac

// Role tables. Each role grants everything the role below it grants.

var projectViewerPermissions = []Permission{
	PermProjectView,
}

var projectEditorPermissions = append(clonePermissions(projectViewerPermissions),
	PermColumnCreate,
	PermColumnEdit,
	PermColumnReorder,
	PermCardCreate,
	PermCardEdit,
	PermCardDelete,
	PermCardAssign,
	PermCardMove,
	PermCommentCreate,
	PermCommentEdit,
	PermCommentDelete,
	PermLabelCreate,
	PermLabelEdit,
	PermAttachmentUpload,
	PermAttachmentDelete,
)

// PROJECT_DELETE is reserved for the project owner.
var projectAdminPermissions = append(clonePermissions(projectEditorPermissions),
	PermProjectEdit,
	PermProjectArchive,
	PermProjectManageTeams,
	PermColumnDelete,
	PermLabelDelete,
)

var teamViewerPermissions = []Permission{
	PermTeamView,
	PermTeamLeave,
}

var teamMemberPermissions = append(clonePermissions(teamViewerPermissions),
	PermTeamInviteMembers,
)

var teamAdminPermissions = append(clonePermissions(teamMemberPermissions),
	PermTeamEdit,
	PermTeamManageMembers,
	PermTeamRemoveMembers,
)

var teamOwnerPermissions = append(clonePermissions(teamAdminPermissions),
	PermTeamDelete,
	PermTeamManageRoles,
)

var (
	projectRoleGrants = map[ProjectTeamRole]map[Permission]struct{}{
		ProjectRoleViewer: permissionSet(projectViewerPermissions),
		ProjectRoleEditor: permissionSet(projectEditorPermissions),
		ProjectRoleAdmin:  permissionSet(projectAdminPermissions),
	}

	teamRoleGrants = map[TeamRole]map[Permission]struct{}{
		TeamRoleViewer: permissionSet(teamViewerPermissions),
		TeamRoleMember: permissionSet(teamMemberPermissions),
		TeamRoleAdmin:  permissionSet(teamAdminPermissions),
		TeamRoleOwner:  permissionSet(teamOwnerPermissions),
	}

	projectRoleRank = map[ProjectTeamRole]int{
		ProjectRoleViewer: 1,
		ProjectRoleEditor: 2,
		ProjectRoleAdmin:  3,
	}

	teamRoleRank = map[TeamRole]int{
		TeamRoleViewer: 1,
		TeamRoleMember: 2,
		TeamRoleAdmin:  3,
		TeamRoleOwner:  4,
	}
)

// PermissionsForProjectRole returns the permissions granted by a project role,
// in declaration order. Unknown roles and ProjectRoleNone grant nothing.
func PermissionsForProjectRole(role ProjectTeamRole) []Permission {
	return filterPermissions(AllProjectPermissions(), projectRoleGrants[role])
}

// PermissionsForTeamRole returns the permissions granted by a team role,
// in declaration order. Unknown roles and TeamRoleNone grant nothing.
func PermissionsForTeamRole(role TeamRole) []Permission {
	return filterPermissions(AllTeamPermissions(), teamRoleGrants[role])
}

// ProjectRoleIncludes reports whether role grants permission
func ProjectRoleIncludes(role ProjectTeamRole, permission Permission) bool {
	_, ok := projectRoleGrants[role][permission]
	return ok
}

// TeamRoleIncludes reports whether role grants permission
func TeamRoleIncludes(role TeamRole, permission Permission) bool {
	_, ok := teamRoleGrants[role][permission]
	return ok
}

// Rank returns the privilege rank of the role; 0 for none or unknown
func (r ProjectTeamRole) Rank() int {
	return projectRoleRank[r]
}

// Valid reports whether r is a known, non-empty role
func (r ProjectTeamRole) Valid() bool {
	return r.Rank() > 0
}

// Rank returns the privilege rank of the role; 0 for none or unknown
func (r TeamRole) Rank() int {
	return teamRoleRank[r]
}

// Valid reports whether r is a known, non-empty role
func (r TeamRole) Valid() bool {
	return r.Rank() > 0
}

// MaxProjectRole returns the more privileged of a and b
func MaxProjectRole(a, b ProjectTeamRole) ProjectTeamRole {
	if b.Rank() > a.Rank() {
		return b
	}
	if a.Rank() == 0 {
		return ProjectRoleNone
	}
	return a
}

// ProjectTeamRoles returns the project roles from least to most privileged
func ProjectTeamRoles() []ProjectTeamRole {
	return []ProjectTeamRole{ProjectRoleViewer, ProjectRoleEditor, ProjectRoleAdmin}
}

// TeamRoles returns the team roles from least to most privileged
func TeamRoles() []TeamRole {
	return []TeamRole{TeamRoleViewer, TeamRoleMember, TeamRoleAdmin, TeamRoleOwner}
}

func permissionSet(perms []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func filterPermissions(all []Permission, granted map[Permission]struct{}) []Permission {
	out := make([]Permission, 0, len(granted))
	for _, p := range all {
		if _, ok := granted[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func clonePermissions(perms []Permission) []Permission {
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
