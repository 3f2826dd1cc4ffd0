/*
Package config loads volgrid configuration from YAML files and VOLGRID_*
environment variables.

Start from NewDefault, overlay a file with LoadFromFile and the
environment with LoadFromEnv, then call Validate:

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/volgrid/config.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

A complete file:

	global:
	  log_level: INFO          # TRACE, DEBUG, INFO, WARN, ERROR
	  log_file: ""             # stderr when empty
	  log_format: text         # text or json

	cache:
	  tree_cache_size: 1GB     # memoised tree budget, 0 disables
	  max_entries: 4096
	  default_simplify_level: 0
	  max_simplify_level: 8

	storage:
	  s3:
	    enabled: false
	    region: us-east-1
	    endpoint: ""           # MinIO, LocalStack, ...
	    force_path_style: false
	    request_timeout: 30s
	  retry:
	    max_attempts: 3
	    base_delay: 100ms
	    max_delay: 5s

	memory:
	  enabled: true
	  sample_interval: 10s
	  high_watermark: 4GB      # heap size that triggers cache trimming
	  gc_percentage: 100

	monitoring:
	  metrics:
	    enabled: false
	    port: 9464
	    path: /metrics
	    namespace: volgrid

Environment overrides:

	VOLGRID_LOG_LEVEL, VOLGRID_LOG_FILE, VOLGRID_LOG_FORMAT
	VOLGRID_TREE_CACHE_SIZE, VOLGRID_CACHE_MAX_ENTRIES, VOLGRID_SIMPLIFY_LEVEL
	VOLGRID_S3_ENABLED, VOLGRID_S3_REGION, VOLGRID_S3_ENDPOINT,
	VOLGRID_S3_FORCE_PATH_STYLE, VOLGRID_S3_REQUEST_TIMEOUT
	VOLGRID_RETRY_MAX_ATTEMPTS
	VOLGRID_MEMORY_MONITOR, VOLGRID_MEMORY_HIGH_WATERMARK, VOLGRID_MEMORY_SAMPLE_INTERVAL
	VOLGRID_METRICS_ENABLED, VOLGRID_METRICS_PORT

S3 credentials are not read from VOLGRID_* variables; leave them empty to
use the AWS default chain (AWS_ACCESS_KEY_ID, shared config, instance role).

Validation failures carry the CONFIG_VALIDATION code from pkg/errors; read
and parse failures carry CONFIG_LOAD.
*/
package config
