// Package vad provides energy-based silence detection for 16-bit PCM audio.
// A window is classified as silent when its mean absolute amplitude falls
// below a configured threshold.
package vad
