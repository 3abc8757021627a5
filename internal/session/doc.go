// Package session pairs two participants into a conversation. A session is
// created by its first participant, becomes active when a second one joins
// and is closed as soon as either of them leaves, at which point the
// remaining participant is told once that its peer is gone.
package session
