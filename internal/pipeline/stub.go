package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/vad"
)

// Stub is a deterministic in-process implementation of all three
// capabilities. Transcripts describe the phrase length, translations tag the
// text with the target language and speech is a tone whose length follows
// the text.
type Stub struct {
	// Format is the format of synthesized speech
	Format audio.Format

	// Delay, when set, returns an artificial latency applied before
	// transcribing pcm
	Delay func(pcm []byte) time.Duration

	// SpeechPerRune is the synthesized duration per character of text
	SpeechPerRune time.Duration
}

// NewStub creates a stub producing speech in format
func NewStub(format audio.Format) *Stub {
	return &Stub{Format: format, SpeechPerRune: 10 * time.Millisecond}
}

// Transcribe returns "<language> phrase of <ms> ms" as a single segment, or
// an empty transcript when the audio holds no speech
func (s *Stub) Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcription, error) {
	if s.Delay != nil {
		if d := s.Delay(pcm); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if vad.MeanAmplitude(pcm) < vad.DefaultThreshold {
		return &Transcription{Language: opts.Language}, nil
	}

	duration := opts.Format.Duration(len(pcm))
	text := fmt.Sprintf("%s phrase of %d ms", opts.Language, duration.Milliseconds())

	return &Transcription{
		Text:     text,
		Language: opts.Language,
		Segments: []Segment{{Start: 0, End: duration.Seconds(), Text: text}},
	}, nil
}

// Translate returns text prefixed with the target language tag
func (s *Stub) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if _, ok := LookupLanguage(targetLanguage); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, targetLanguage)
	}
	return fmt.Sprintf("[%s] %s", targetLanguage, text), nil
}

// Synthesize returns a 220 Hz tone lasting SpeechPerRune per character
func (s *Stub) Synthesize(ctx context.Context, text, language, speaker string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	perRune := s.SpeechPerRune
	if perRune <= 0 {
		perRune = 10 * time.Millisecond
	}
	duration := time.Duration(utf8.RuneCountInString(text)) * perRune

	numSamples := s.Format.BytesInDuration(duration) / s.Format.FrameSize()
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / float64(s.Format.SampleRate)
		samples[i] = int16(8000 * math.Sin(2*math.Pi*220*t))
	}

	return audio.SamplesToBytes(samples), nil
}
