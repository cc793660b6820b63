// Package cache provides the in-memory store behind the permission caches.
//
// A Store keeps values under string keys with three bounds:
//
//   - TTL: an entry older than the TTL is dropped the next time it is read.
//     There is no background sweep.
//   - Size: inserting a new key while the store holds MaxSize entries first
//     removes the least recently accessed 25% (at least one entry).
//   - Explicit invalidation: a single key, every key containing a substring,
//     or everything.
//
// Keys for permission contexts are "{userID}:{resourceID}", so removing by
// substring drops every entry of a user or of a resource:
//
//	projects := cache.New[rbac.ProjectContext](cache.DefaultOptions("projects"))
//	projects.Set(cache.Key(userID, projectID), ctx)
//	projects.InvalidatePattern(projectID)
//
// Recency order is kept by a hashicorp/golang-lru list that never evicts on
// its own. All operations take one mutex per store, so a store can be shared by every
// request goroutine in the process.
package cache
