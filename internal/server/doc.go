// Package server implements the WebSocket endpoint that participants stream
// audio to, and the HTTP API used to monitor sessions, the dispatch engine
// and the pipeline backend.
package server
