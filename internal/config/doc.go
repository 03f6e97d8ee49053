// ABOUTME: Package documentation for the config package
// ABOUTME: Describes file formats, environment overrides, and defaults

// Package config loads wa-gateway configuration.
//
// # Configuration File
//
// The file is YAML unless its name ends in .toml. Every section is optional;
// [Default] supplies the values a fresh deployment runs with:
//
//	server:
//	  http_addr: ":3000"
//	  base_url: "http://localhost:3000"
//	database:
//	  driver: "sqlite"        # or "postgres" with dsn
//	  path: "./data/wa-gateway.db"
//	quota:
//	  limit_known: 5
//	  limit_unknown: 3
//	  unknown_delay: "2s"
//	  backend: "database"     # or "redis" with redis.url
//
// # Environment Variable Expansion
//
// ${VAR_NAME} anywhere in the file is replaced with the variable's value, or
// the empty string when it is unset.
//
// # Environment Overrides
//
// After the file is decoded, a fixed set of variables overrides it: PORT,
// BASE_URL, DELAY_NOT_IN_CONTACTS_MS, LIMIT_IN_CONTACTS_PER_DAY,
// LIMIT_NOT_IN_CONTACTS_PER_DAY, DATABASE_DRIVER, DATABASE_PATH,
// DATABASE_URL, REDIS_URL, JWT_SECRET, WEBHOOK_URL, WEBHOOK_TRIGGER_NUMBER and
// LOG_LEVEL among others. [LoadDotEnv] reads a .env file into the process
// environment first.
//
// # Duration Parsing
//
// Durations use Go syntax ("500ms", "2s", "1m").
package config
