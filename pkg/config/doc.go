// Package config loads the decisionlens daemon configuration.
//
// # Sources
//
// Values are resolved in order, later sources winning:
//
//  1. built-in defaults (Default)
//  2. an optional YAML file
//  3. DECISIONLENS_* environment variables
//
// Example file:
//
//	server:
//	  metrics_addr: ":9090"
//	  shutdown_timeout: 30s
//	retention:
//	  atom_days: 90
//	  campaign_days: 30
//	  user_days: 365
//	janitor:
//	  retention_schedule: "@hourly"
//	  graph_schedule: "*/15 * * * *"
//	cache:
//	  size: 4096
//	  ttl: 5m
//	observability:
//	  log_level: info
//	  log_format: json
//	tenants: [default, acme]
//
// Environment overrides:
//
//	DECISIONLENS_ATOM_RETENTION_DAYS="90"
//	DECISIONLENS_CAMPAIGN_RETENTION_DAYS="30"
//	DECISIONLENS_USER_RETENTION_DAYS="365"
//	DECISIONLENS_RETENTION_SCHEDULE="@hourly"
//	DECISIONLENS_GRAPH_SCHEDULE="@hourly"
//	DECISIONLENS_CACHE_SIZE="4096"
//	DECISIONLENS_CACHE_TTL="5m"
//	DECISIONLENS_SAMPLE_LIMIT="256"
//	DECISIONLENS_NOTIFY_BUFFER="256"
//	DECISIONLENS_LOG_LEVEL="info"  # debug, info, warn, error
//	DECISIONLENS_LOG_FORMAT="text" # text, json
//	DECISIONLENS_METRICS_ENABLED="true"
//	DECISIONLENS_OTEL_ENABLED="false"
//	DECISIONLENS_OTEL_ENDPOINT="localhost:4317"
//	DECISIONLENS_METRICS_ADDR=":9090"
//	DECISIONLENS_SHUTDOWN_TIMEOUT="30s"
//	DECISIONLENS_TENANTS="default,acme"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig("/etc/decisionlens.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	registry, err := engine.NewRegistry(cfg.EngineConfig())
//
// Watch re-reads the file on change so log level and retention windows can
// be adjusted without a restart.
package config
