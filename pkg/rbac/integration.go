package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/boardperm/pkg/cache"
	"github.com/sirupsen/logrus"
)

// Cache names reported in stats, metrics and the debug endpoint
const (
	ProjectCacheName = "project_contexts"
	TeamCacheName    = "team_contexts"
)

// Config holds the permission engine configuration
type Config struct {
	ProjectCacheTTL     time.Duration
	ProjectCacheMaxSize int
	TeamCacheTTL        time.Duration
	TeamCacheMaxSize    int

	// Clock drives cache timestamps; nil means the real clock
	Clock clockwork.Clock

	// Observer receives cache signals, e.g. Prometheus metrics
	Observer cache.Observer

	// UserID resolves the caller for the HTTP middleware
	UserID UserIDFunc
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ProjectCacheTTL:     cache.DefaultTTL,
		ProjectCacheMaxSize: cache.DefaultMaxSize,
		TeamCacheTTL:        cache.DefaultTTL,
		TeamCacheMaxSize:    cache.DefaultMaxSize,
		UserID:              HeaderUserID("X-User-ID"),
	}
}

// Manager wires every component of the engine around one database. There
// should be one Manager per process so that both caches are process-wide.
type Manager struct {
	db           *sql.DB
	store        *Store
	projects     *ProjectAccess
	teams        *TeamAccess
	invalidator  *Invalidator
	service      *Service
	middleware   *PermissionMiddleware
	handlers     *Handlers
	subscription *Subscription
	log          logrus.FieldLogger
}

// NewManager creates a new manager
func NewManager(db *sql.DB, config Config, log logrus.FieldLogger) *Manager {
	log = loggerOrDiscard(log)
	if config.UserID == nil {
		config.UserID = HeaderUserID("X-User-ID")
	}

	store := NewStore(db)
	loader := NewContextLoader(store, config.Clock)

	projectCache := cache.New[ProjectContext](cache.Options{
		Name:     ProjectCacheName,
		TTL:      config.ProjectCacheTTL,
		MaxSize:  config.ProjectCacheMaxSize,
		Clock:    config.Clock,
		Observer: config.Observer,
	})
	teamCache := cache.New[TeamContext](cache.Options{
		Name:     TeamCacheName,
		TTL:      config.TeamCacheTTL,
		MaxSize:  config.TeamCacheMaxSize,
		Clock:    config.Clock,
		Observer: config.Observer,
	})

	projects := NewProjectAccess(projectCache, loader, log)
	teams := NewTeamAccess(teamCache, loader, log)
	invalidator := NewInvalidator(projects, teams, log)
	service := NewService(store, invalidator, log)

	return &Manager{
		db:          db,
		store:       store,
		projects:    projects,
		teams:       teams,
		invalidator: invalidator,
		service:     service,
		middleware:  NewPermissionMiddleware(projects, teams, config.UserID, log),
		handlers:    NewHandlers(projects, teams, service, log),
		log:         log,
	}
}

// Initialize runs pending schema migrations
func (m *Manager) Initialize(ctx context.Context) error {
	applied, err := RunMigrations(ctx, m.db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.log.WithField("applied", applied).Info("database migrations complete")
	return nil
}

// EnableBroadcast shares invalidations with other processes through Redis.
// The subscription lives until Close or until ctx is done.
func (m *Manager) EnableBroadcast(ctx context.Context, client *redis.Client, channel string) error {
	broadcaster := NewRedisBroadcaster(client, channel, m.log)

	sub, err := broadcaster.Subscribe(ctx, m.invalidator.Apply)
	if err != nil {
		return err
	}

	m.subscription = sub
	m.invalidator.SetPublisher(broadcaster)
	return nil
}

// RegisterRoutes registers the HTTP routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router, m.middleware)
}

// RegisterDebugRoutes registers cache diagnostics on an internal router
func (m *Manager) RegisterDebugRoutes(router *mux.Router) {
	m.handlers.RegisterDebugRoutes(router)
}

// Close stops the broadcast subscription, if any
func (m *Manager) Close() error {
	if m.subscription == nil {
		return nil
	}
	return m.subscription.Close()
}

// Store returns the persistence collaborator
func (m *Manager) Store() *Store {
	return m.store
}

// Projects returns the project permission side
func (m *Manager) Projects() *ProjectAccess {
	return m.projects
}

// Teams returns the team permission side
func (m *Manager) Teams() *TeamAccess {
	return m.teams
}

// Invalidator returns the cache invalidation manager
func (m *Manager) Invalidator() *Invalidator {
	return m.invalidator
}

// Service returns the mutation service
func (m *Manager) Service() *Service {
	return m.service
}

// Middleware returns the HTTP permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// CanAccessProject is a one-shot check for callers outside HTTP
func (m *Manager) CanAccessProject(ctx context.Context, userID, projectID string, permission Permission) (bool, error) {
	checker := m.projects.NewChecker()
	if _, err := checker.LoadContext(ctx, userID, projectID); err != nil {
		return false, err
	}
	return checker.HasPermission(permission), nil
}

// CanAccessTeam is a one-shot check for callers outside HTTP
func (m *Manager) CanAccessTeam(ctx context.Context, userID, teamID string, permission Permission) (bool, error) {
	checker := m.teams.NewChecker()
	if _, err := checker.LoadContext(ctx, userID, teamID); err != nil {
		return false, err
	}
	return checker.HasPermission(permission), nil
}
