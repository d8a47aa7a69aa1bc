// Package config provides centralized configuration management for the
// solver runtime, loading a JSON file and applying sane defaults for the
// API server, task storage, queue, reasoning backend, and chain access.
package config
