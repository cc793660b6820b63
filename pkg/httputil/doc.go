// Package httputil provides JSON request and response helpers shared by the
// HTTP handlers.
//
// Every error is written as {"error": "..."} with the matching status code:
//
//	var req CreateTeamRequest
//	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
//		return // Error response already written
//	}
//	httputil.WriteCreated(w, team)
package httputil
