// Package api exposes the agent-to-agent protocol surface: the discovery
// document, the JSON-RPC task endpoints, and operational routes such as
// health checks and metrics.
package api
