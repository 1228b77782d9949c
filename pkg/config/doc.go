// Package config provides configuration management for the delta notifier.
//
// Configuration is read from a YAML file, layered over defaults, and then
// overridden from the environment:
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variables named NOTIFIER_SECTION_FIELD
//  4. Validation, which collects every FieldError before failing
//
// For example NOTIFIER_ENGINE_IDENTITY overrides engine.identity and
// NOTIFIER_JOURNAL_SQLITE_DRIVER overrides journal.sqlite.driver.
//
// A minimal configuration:
//
//	server:
//	  listen_address: "0.0.0.0:80"
//	rules:
//	  file_path: /config/rules.yaml
//	engine:
//	  identity: "http://services.example.org/notifier"
//	journal:
//	  backend: sqlite
//	  sqlite:
//	    path: /data/journal.db
//
// Application code calls Initialize once at startup and GetConfig afterwards.
// Library packages take explicit configuration values instead of reading
// the singleton.
package config
