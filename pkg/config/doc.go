// Package config loads boardperm configuration from a YAML file and
// environment variables.
//
// # Overview
//
// Defaults come from Default. LoadConfigFile reads a YAML document over
// them, and both loaders then apply any BOARDPERM_* variables that are set.
// The result is validated before it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	BOARDPERM_HOST="0.0.0.0"
//	BOARDPERM_PORT="8080"
//	BOARDPERM_HEALTH_PORT="9090"
//	BOARDPERM_READ_TIMEOUT="15s"
//	BOARDPERM_USER_ID_HEADER="X-User-ID"
//
// Database settings:
//
//	BOARDPERM_DATABASE_URL="postgres://localhost/boardperm?sslmode=disable"
//	BOARDPERM_DATABASE_MAX_OPEN_CONNS="25"
//	BOARDPERM_DATABASE_AUTO_MIGRATE="true"
//
// Cache settings:
//
//	BOARDPERM_PROJECT_CACHE_TTL="5m"
//	BOARDPERM_PROJECT_CACHE_SIZE="1000"
//	BOARDPERM_TEAM_CACHE_TTL="5m"
//	BOARDPERM_TEAM_CACHE_SIZE="1000"
//
// Broadcast settings:
//
//	BOARDPERM_BROADCAST_ENABLED="true"
//	BOARDPERM_REDIS_URL="redis://localhost:6379"
//	BOARDPERM_BROADCAST_CHANNEL="boardperm:invalidations"
//
// Observability settings:
//
//	BOARDPERM_LOG_LEVEL="info"  # trace, debug, info, warn, error
//	BOARDPERM_METRICS_ENABLED="true"
//	BOARDPERM_OTEL_ENABLED="false"
//	BOARDPERM_OTEL_ENDPOINT="localhost:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfigFile("/etc/boardperm/config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
package config
