// Package config handles configuration loading for coven-warden.
//
// # Overview
//
// Every setting can be supplied through the environment. An optional YAML or
// TOML file, named by the WARDEN_CONFIG environment variable or the --config
// flag, provides the same settings; environment variables always take
// precedence over the file. Defaults are applied last and the result is
// validated so the process fails fast on missing values.
//
// # Environment Variables
//
//	MATRIX_HOMESERVER      homeserver base URL (required)
//	MATRIX_ACCESS_TOKEN    manager account token (required)
//	MATRIX_CONTROL_ROOM    control room ID (required)
//	LISTEN_API_HOST        bind host, default all interfaces
//	LISTEN_API_PORT        HTTP API port (required)
//	LISTEN_API_KEY         shared API secret (required)
//	DB_DRIVER              mysql (default) or sqlite
//	DB_HOST, DB_USER, DB_PASSWORD   required for mysql
//	DB_PORT                default 3306
//	DB_NAME                database name, or file path for sqlite (required)
//	TOKEN_ENCRYPTION_KEY   base64 32 byte key sealing bot tokens at rest
//	LOG_LEVEL, LOG_FORMAT  debug|info|warn|error, text|json
//	SHUTDOWN_TIMEOUT       Go duration, default 10s
//	TAILSCALE_*            ENABLED, HOSTNAME, AUTH_KEY, STATE_DIR, EPHEMERAL
//
// # Configuration File
//
// File values may reference environment variables:
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  access_token: "${WARDEN_MATRIX_TOKEN}"
//	  control_room: "!abc:example.org"
//	listen_api:
//	  port: 8080
//	  key: "${WARDEN_API_KEY}"
//	db:
//	  driver: sqlite
//	  name: ./data/warden.db
//	shutdown_timeout: 10s
//
// TOML files use the same keys with [matrix], [listen_api], [db], [log] and
// [tailscale] tables.
package config
