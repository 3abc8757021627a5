package pipeline

import (
	"context"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
)

// Segment is a timed piece of a transcript. Start and End are seconds from
// the beginning of the phrase.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of speech recognition on one phrase
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// TranscribeOptions selects the recognition language and model
type TranscribeOptions struct {
	Language string
	Model    string
	Format   audio.Format
}

// Transcriber recognizes speech in PCM audio
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcription, error)
}

// Translator translates text between languages
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

// Synthesizer renders text as PCM speech in the synthesizer's output format
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language, speaker string) ([]byte, error)
}

// Options carries the per-participant processing configuration
type Options struct {
	SourceLanguage string `json:"language_from"`
	TargetLanguage string `json:"language_to"`
	Model          string `json:"model_name"`
	Speaker        string `json:"speaker,omitempty"`
}

// TranslatedSegment pairs a source segment with its translation
type TranslatedSegment struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	OriginalText   string  `json:"original_text"`
	TranslatedText string  `json:"translated_text"`
}

// Output is the translated rendition of one phrase
type Output struct {
	OriginalText    string              `json:"original_text"`
	TranslatedText  string              `json:"translated_text"`
	Segments        []TranslatedSegment `json:"segments,omitempty"`
	Audio           []byte              `json:"-"` // PCM in Format
	Format          audio.Format        `json:"format"`
	Silent          bool                `json:"silent"`
	ProcessingDelay time.Duration       `json:"processing_delay"`
}
