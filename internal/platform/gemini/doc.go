// Package gemini provides an executor backed by Google's Gemini API.
//
// It is an infrastructure adapter: the engine hands it a fully rendered
// prompt and receives a captured result, without the details of the external
// service leaking into the core packages. Transient API failures are retried
// with exponential backoff and jitter before the error is surfaced to the
// worker, where the normal requeue machinery takes over.
package gemini
