// Package audio handles PCM audio accumulation, phrase segmentation and
// format conversion. Incoming chunks are buffered until a trailing window of
// silence closes the phrase; WAV and raw PCM payloads are normalized to the
// relay's internal 16-bit mono format, resampling WAV recorded at another
// rate.
package audio
