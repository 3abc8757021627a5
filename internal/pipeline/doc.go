// Package pipeline turns a phrase of speech into translated speech. The
// Facade chains three capabilities (transcription, translation and speech
// synthesis) and aligns each synthesized segment with the timing of its
// source. Capabilities are reached over HTTP by Client or served in-process
// by Stub.
package pipeline
