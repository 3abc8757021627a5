// Package protocol defines the JSON messages exchanged with participants over
// the WebSocket transport. Every text frame is an envelope carrying a message
// type and a typed payload; binary frames carry raw PCM audio.
package protocol
