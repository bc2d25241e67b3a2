// Package api implements the HTTP interface of the engine: task submission,
// task status and listing, and engine statistics. Handlers translate between
// JSON payloads and the orchestrator's domain types; they hold no engine
// logic of their own.
package api
