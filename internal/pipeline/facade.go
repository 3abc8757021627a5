package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/metrics"
)

// Facade chains transcription, translation and synthesis for one phrase
type Facade struct {
	transcriber  Transcriber
	translator   Translator
	synthesizer  Synthesizer
	inputFormat  audio.Format
	outputFormat audio.Format
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// FacadeConfig contains the audio formats on both sides of the pipeline
type FacadeConfig struct {
	InputFormat  audio.Format
	OutputFormat audio.Format
}

// NewFacade creates a pipeline facade over the given capabilities
func NewFacade(transcriber Transcriber, translator Translator, synthesizer Synthesizer,
	config FacadeConfig, logger *slog.Logger, m *metrics.Metrics) (*Facade, error) {
	if transcriber == nil || translator == nil || synthesizer == nil {
		return nil, fmt.Errorf("all pipeline capabilities are required")
	}
	if err := config.InputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input format: %w", err)
	}
	if err := config.OutputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output format: %w", err)
	}

	return &Facade{
		transcriber:  transcriber,
		translator:   translator,
		synthesizer:  synthesizer,
		inputFormat:  config.InputFormat,
		outputFormat: config.OutputFormat,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}, nil
}

// OutputFormat returns the format of synthesized audio
func (f *Facade) OutputFormat() audio.Format {
	return f.outputFormat
}

// Process translates one phrase. Silent phrases and empty transcripts yield an
// empty output without calling the downstream capabilities. Capability
// failures are returned as *TranscriptionError, *TranslationError or
// *SynthesisError.
func (f *Facade) Process(ctx context.Context, phrase *audio.Phrase, opts Options) (*Output, error) {
	output := &Output{Format: f.outputFormat}
	defer func() {
		if !phrase.EndTime.IsZero() {
			output.ProcessingDelay = f.now().Sub(phrase.EndTime)
		}
	}()

	if phrase.Silent || len(phrase.Data) == 0 {
		output.Silent = true
		return output, nil
	}

	speaker := opts.Speaker
	if speaker == "" {
		speaker = DefaultSpeaker(opts.TargetLanguage)
	}

	start := f.now()
	transcription, err := f.transcriber.Transcribe(ctx, phrase.Data, TranscribeOptions{
		Language: opts.SourceLanguage,
		Model:    opts.Model,
		Format:   f.inputFormat,
	})
	f.metrics.RecordStage(StageTranscribe, f.now().Sub(start).Seconds(), err)
	if err != nil {
		return output, &TranscriptionError{Err: err}
	}

	segments := transcription.Segments
	if len(segments) == 0 {
		segments = []Segment{{Start: 0, End: phrase.Duration.Seconds(), Text: transcription.Text}}
	}

	var originals, translations []string
	for i, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}

		start = f.now()
		translated, err := f.translator.Translate(ctx, text, opts.SourceLanguage, opts.TargetLanguage)
		f.metrics.RecordStage(StageTranslate, f.now().Sub(start).Seconds(), err)
		if err != nil {
			return output, &TranslationError{Segment: i, Err: err}
		}

		output.Segments = append(output.Segments, TranslatedSegment{
			Start:          segment.Start,
			End:            segment.End,
			OriginalText:   text,
			TranslatedText: translated,
		})
		originals = append(originals, text)
		translations = append(translations, translated)
	}

	output.OriginalText = strings.Join(originals, " ")
	output.TranslatedText = strings.Join(translations, " ")

	for i, segment := range output.Segments {
		if strings.TrimSpace(segment.TranslatedText) == "" {
			continue
		}

		start = f.now()
		speech, err := f.synthesizer.Synthesize(ctx, segment.TranslatedText, opts.TargetLanguage, speaker)
		f.metrics.RecordStage(StageSynthesize, f.now().Sub(start).Seconds(), err)
		if err != nil {
			return output, &SynthesisError{Segment: i, Err: err}
		}

		// Pad so the segment starts where its source started
		offset := f.outputFormat.BytesInDuration(time.Duration(segment.Start * float64(time.Second)))
		if gap := offset - len(output.Audio); gap > 0 {
			output.Audio = append(output.Audio, make([]byte, gap)...)
		}
		output.Audio = append(output.Audio, speech...)
	}

	if f.logger != nil {
		f.logger.Debug("Processed phrase",
			slog.String("source_language", opts.SourceLanguage),
			slog.String("target_language", opts.TargetLanguage),
			slog.Int("segments", len(output.Segments)),
			slog.Int("audio_bytes", len(output.Audio)),
			slog.Duration("phrase_duration", phrase.Duration))
	}

	return output, nil
}
