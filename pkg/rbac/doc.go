// Package rbac decides what a user may do on a project board or a team.
//
// # Overview
//
// Access flows through teams. A team grants each of its members a team role,
// and a project grants whole teams a project role. A user's rights on a
// project are the union of the roles of the teams that reach it, plus
// everything when the user owns the project. A user's rights on a team come
// from their membership role, plus everything when the user created the team.
//
// # Roles
//
// Project roles granted to a team, least to most privileged:
//
//	viewer  - PROJECT_VIEW
//	editor  - viewer + column create/edit/reorder, cards, comments, labels, attachments
//	admin   - editor + PROJECT_EDIT, PROJECT_ARCHIVE, PROJECT_MANAGE_TEAMS, COLUMN_DELETE, LABEL_DELETE
//
// PROJECT_DELETE is only held by the project owner.
//
// Team roles:
//
//	viewer  - TEAM_VIEW, TEAM_LEAVE
//	member  - viewer + TEAM_INVITE_MEMBERS
//	admin   - member + TEAM_EDIT, TEAM_MANAGE_MEMBERS, TEAM_REMOVE_MEMBERS
//	owner   - admin + TEAM_DELETE, TEAM_MANAGE_ROLES
//
// When several teams reach one project the most privileged role wins.
//
// # Checking permissions
//
// ProjectAccess and TeamAccess own the two process-wide caches. Build them once
// and create a checker per request:
//
//	checker := projects.NewChecker()
//	if _, err := checker.LoadContext(ctx, userID, projectID); err != nil {
//		// *NotFoundError: respond 404. Anything else: deny.
//	}
//	if !checker.CanEditCards() {
//		// 403
//	}
//
// Checks never error. A checker without a loaded context denies everything.
// Load errors are never cached.
//
// # Invalidation
//
// Cached contexts live for five minutes by default. Writes that change a
// membership, a role, a grant or an ownership must be followed by the matching
// Invalidator event. Service performs the write and the event together:
//
//	err := service.AddTeamMember(ctx, teamID, userID, rbac.TeamRoleMember)
//
// With several processes sharing a database, EnableBroadcast on the Manager
// publishes every event on a Redis channel and applies the events of the
// other processes.
//
// # HTTP
//
// PermissionMiddleware gates gorilla/mux routes on the {projectID} and
// {teamID} route variables:
//
//	router.Handle("/v1/projects/{projectID}/cards",
//		mw.RequireProjectPermission(rbac.PermCardCreate)(createCard)).Methods("POST")
//
// Responses: 401 without a user, 404 for a missing resource, 503 when the
// context cannot be loaded, 403 when the permission is not granted.
package rbac
