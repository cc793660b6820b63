package rbac

import (
	"time"
)

// Permission is a single gated operation on a project or a team
type Permission string

// Project permissions
const (
	PermProjectView        Permission = "PROJECT_VIEW"
	PermProjectEdit        Permission = "PROJECT_EDIT"
	PermProjectDelete      Permission = "PROJECT_DELETE"
	PermProjectArchive     Permission = "PROJECT_ARCHIVE"
	PermProjectManageTeams Permission = "PROJECT_MANAGE_TEAMS"

	PermColumnCreate  Permission = "COLUMN_CREATE"
	PermColumnEdit    Permission = "COLUMN_EDIT"
	PermColumnDelete  Permission = "COLUMN_DELETE"
	PermColumnReorder Permission = "COLUMN_REORDER"

	PermCardCreate Permission = "CARD_CREATE"
	PermCardEdit   Permission = "CARD_EDIT"
	PermCardDelete Permission = "CARD_DELETE"
	PermCardAssign Permission = "CARD_ASSIGN"
	PermCardMove   Permission = "CARD_MOVE"

	PermCommentCreate Permission = "COMMENT_CREATE"
	PermCommentEdit   Permission = "COMMENT_EDIT"
	PermCommentDelete Permission = "COMMENT_DELETE"

	PermLabelCreate Permission = "LABEL_CREATE"
	PermLabelEdit   Permission = "LABEL_EDIT"
	PermLabelDelete Permission = "LABEL_DELETE"

	PermAttachmentUpload Permission = "ATTACHMENT_UPLOAD"
	PermAttachmentDelete Permission = "ATTACHMENT_DELETE"
)

// Team permissions
const (
	PermTeamView          Permission = "TEAM_VIEW"
	PermTeamEdit          Permission = "TEAM_EDIT"
	PermTeamDelete        Permission = "TEAM_DELETE"
	PermTeamManageMembers Permission = "TEAM_MANAGE_MEMBERS"
	PermTeamManageRoles   Permission = "TEAM_MANAGE_ROLES"
	PermTeamInviteMembers Permission = "TEAM_INVITE_MEMBERS"
	PermTeamRemoveMembers Permission = "TEAM_REMOVE_MEMBERS"
	PermTeamLeave         Permission = "TEAM_LEAVE"
)

// AllProjectPermissions lists every project permission in declaration order
func AllProjectPermissions() []Permission {
	return []Permission{
		PermProjectView, PermProjectEdit, PermProjectDelete, PermProjectArchive, PermProjectManageTeams,
		PermColumnCreate, PermColumnEdit, PermColumnDelete, PermColumnReorder,
		PermCardCreate, PermCardEdit, PermCardDelete, PermCardAssign, PermCardMove,
		PermCommentCreate, PermCommentEdit, PermCommentDelete,
		PermLabelCreate, PermLabelEdit, PermLabelDelete,
		PermAttachmentUpload, PermAttachmentDelete,
	}
}

// AllTeamPermissions lists every team permission in declaration order
func AllTeamPermissions() []Permission {
	return []Permission{
		PermTeamView, PermTeamEdit, PermTeamDelete, PermTeamManageMembers,
		PermTeamManageRoles, PermTeamInviteMembers, PermTeamRemoveMembers, PermTeamLeave,
	}
}

// TeamRole is a user's role inside a team
type TeamRole string

const (
	// TeamRoleNone means the user holds no role in the team
	TeamRoleNone   TeamRole = ""
	TeamRoleViewer TeamRole = "viewer"
	TeamRoleMember TeamRole = "member"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleOwner  TeamRole = "owner"
)

// ProjectTeamRole is the role a team holds on a project it was granted access to
type ProjectTeamRole string

const (
	// ProjectRoleNone means no grant
	ProjectRoleNone   ProjectTeamRole = ""
	ProjectRoleViewer ProjectTeamRole = "viewer"
	ProjectRoleEditor ProjectTeamRole = "editor"
	ProjectRoleAdmin  ProjectTeamRole = "admin"
)

// Project is the slice of a project row the engine needs
type Project struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	OwnerID    string      `json:"owner_id"`
	TeamGrants []TeamGrant `json:"team_grants"`
}

// TeamGrant gives a team a role on a project
type TeamGrant struct {
	TeamID      string          `json:"team_id"`
	ProjectRole ProjectTeamRole `json:"project_role"`
}

// Team is the slice of a team row the engine needs
type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatorID string `json:"creator_id"`
}

// TeamMembership is a user's membership row in a team
type TeamMembership struct {
	TeamID string   `json:"team_id"`
	UserID string   `json:"user_id,omitempty"`
	Role   TeamRole `json:"role"`
}

// ProjectContext holds the facts needed to answer project permission checks
type ProjectContext struct {
	IsProjectOwner  bool        `json:"is_project_owner"`
	TeamMemberships []TeamGrant `json:"team_memberships"`
	ResolvedAt      time.Time   `json:"resolved_at"`
}

// Clone returns a deep copy
func (c ProjectContext) Clone() ProjectContext {
	out := c
	if c.TeamMemberships != nil {
		out.TeamMemberships = make([]TeamGrant, len(c.TeamMemberships))
		copy(out.TeamMemberships, c.TeamMemberships)
	}
	return out
}

// EffectiveRole returns the most privileged project role across all team grants
func (c ProjectContext) EffectiveRole() ProjectTeamRole {
	role := ProjectRoleNone
	for _, m := range c.TeamMemberships {
		role = MaxProjectRole(role, m.ProjectRole)
	}
	return role
}

// HasAccess reports whether the context grants anything at all
func (c ProjectContext) HasAccess() bool {
	return c.IsProjectOwner || len(PermissionsForProjectRole(c.EffectiveRole())) > 0
}

// TeamContext holds the facts needed to answer team permission checks
type TeamContext struct {
	UserRole      TeamRole  `json:"user_role,omitempty"`
	IsTeamCreator bool      `json:"is_team_creator"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// Clone returns a copy
func (c TeamContext) Clone() TeamContext {
	return c
}

// HasAccess reports whether the context grants anything at all
func (c TeamContext) HasAccess() bool {
	return c.IsTeamCreator || len(PermissionsForTeamRole(c.UserRole)) > 0
}
