// Package config handles configuration loading for coven-chat.
//
// # Configuration File
//
// The server reads a YAML file (or TOML when the path ends in .toml):
//
//	server:
//	  http_addr: "localhost:8080"
//	  grpc_addr: "localhost:50051"   # optional gRPC health service
//
//	database:
//	  path: "~/.local/share/coven/chat.db"
//
//	auth:
//	  jwt_secret: "${COVEN_CHAT_JWT_SECRET}"
//	  token_ttl: "168h"
//
//	gateway:
//	  ping_interval: "30s"
//	  pong_timeout: "60s"
//	  write_timeout: "10s"
//	  connect_timeout: "10s"
//	  command_timeout: "5s"
//	  send_buffer: 128
//	  allowed_origins: ["https://app.example.com"]
//
//	chat:
//	  default_page_size: 30
//	  max_page_size: 100
//	  dedupe_ttl: "5m"
//
//	activity:
//	  queue_size: 256
//	  timeout: "5s"
//
//	logging:
//	  level: "info"     # debug, info, warn, error
//	  format: "text"    # text, json
//
// # Environment Variables
//
// ${VAR} references are expanded before parsing. COVEN_CHAT_DB_PATH
// overrides database.path.
//
// # Defaults
//
// Unset durations and sizes fall back to the Default* constants; Default()
// returns a Config with all of them applied.
package config
