package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
)

type fakeTranscriber struct {
	result *Transcription
	err    error
	calls  int
	mu     sync.Mutex
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeTranslator struct {
	err   error
	calls []string
}

func (f *fakeTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return "", f.err
	}
	return dst + ":" + text, nil
}

type fakeSynthesizer struct {
	bytesPerCall int
	err          error
	speakers     []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, language, speaker string) ([]byte, error) {
	f.speakers = append(f.speakers, speaker)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, f.bytesPerCall)
	for i := range out {
		out[i] = 0x11
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestFacade(t *testing.T, tr Transcriber, tl Translator, sy Synthesizer) *Facade {
	t.Helper()
	f, err := NewFacade(tr, tl, sy, FacadeConfig{
		InputFormat:  audio.DefaultFormat,
		OutputFormat: audio.DefaultFormat,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("Failed to create facade: %v", err)
	}
	return f
}

func speechPhrase() *audio.Phrase {
	return &audio.Phrase{
		Data:     make([]byte, 4800),
		EndTime:  time.Now().Add(-50 * time.Millisecond),
		Duration: 100 * time.Millisecond,
	}
}

func TestNewFacadeValidation(t *testing.T) {
	stub := NewStub(audio.DefaultFormat)
	if _, err := NewFacade(nil, stub, stub, FacadeConfig{InputFormat: audio.DefaultFormat, OutputFormat: audio.DefaultFormat}, testLogger(), nil); err == nil {
		t.Error("Expected error for missing transcriber")
	}
	if _, err := NewFacade(stub, stub, stub, FacadeConfig{InputFormat: audio.DefaultFormat}, testLogger(), nil); err == nil {
		t.Error("Expected error for invalid output format")
	}
}

func TestProcessSilentPhrase(t *testing.T) {
	tr := &fakeTranscriber{}
	f := newTestFacade(t, tr, &fakeTranslator{}, &fakeSynthesizer{})

	phrase := speechPhrase()
	phrase.Silent = true

	out, err := f.Process(context.Background(), phrase, Options{SourceLanguage: "en", TargetLanguage: "ru"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !out.Silent {
		t.Error("Expected output tagged silent")
	}
	if tr.calls != 0 {
		t.Errorf("Expected no transcription calls, got %d", tr.calls)
	}
	if out.OriginalText != "" || len(out.Audio) != 0 {
		t.Error("Expected empty output for silent phrase")
	}
}

func TestProcessSegmentsAligned(t *testing.T) {
	tr := &fakeTranscriber{result: &Transcription{
		Text: "hello there world",
		Segments: []Segment{
			{Start: 0, End: 0.5, Text: "hello there"},
			{Start: 1.0, End: 1.5, Text: " world "},
		},
	}}
	tl := &fakeTranslator{}
	sy := &fakeSynthesizer{bytesPerCall: 4800} // 100ms at 24kHz
	f := newTestFacade(t, tr, tl, sy)

	out, err := f.Process(context.Background(), speechPhrase(), Options{SourceLanguage: "en", TargetLanguage: "ru"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if out.OriginalText != "hello there world" {
		t.Errorf("Expected joined original text, got %q", out.OriginalText)
	}
	if out.TranslatedText != "ru:hello there ru:world" {
		t.Errorf("Expected joined translated text, got %q", out.TranslatedText)
	}
	if len(out.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(out.Segments))
	}

	// Second segment starts at 1.0s: 24000 frames of 2 bytes
	secondStart := audio.DefaultFormat.BytesInDuration(time.Second)
	if len(out.Audio) != secondStart+4800 {
		t.Errorf("Expected %d audio bytes, got %d", secondStart+4800, len(out.Audio))
	}
	if out.Audio[4800] != 0 || out.Audio[secondStart-1] != 0 {
		t.Error("Expected silence padding between segments")
	}
	if out.Audio[secondStart] != 0x11 {
		t.Error("Expected second segment at its source start time")
	}

	if len(sy.speakers) != 2 || sy.speakers[0] != "aidar" {
		t.Errorf("Expected default ru speaker, got %v", sy.speakers)
	}
	if out.ProcessingDelay < 50*time.Millisecond {
		t.Errorf("Expected processing delay measured from phrase end, got %v", out.ProcessingDelay)
	}
}

func TestProcessOverlappingSegmentsAppend(t *testing.T) {
	tr := &fakeTranscriber{result: &Transcription{
		Segments: []Segment{
			{Start: 0, Text: "one"},
			{Start: 0.05, Text: "two"}, // starts before the first synthesis ends
		},
	}}
	sy := &fakeSynthesizer{bytesPerCall: 4800}
	f := newTestFacade(t, tr, &fakeTranslator{}, sy)

	out, err := f.Process(context.Background(), speechPhrase(), Options{SourceLanguage: "en", TargetLanguage: "de", Speaker: "custom"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Audio) != 9600 {
		t.Errorf("Expected segments back to back, got %d bytes", len(out.Audio))
	}
	if sy.speakers[0] != "custom" {
		t.Errorf("Expected explicit speaker, got %s", sy.speakers[0])
	}
}

func TestProcessWithoutSegments(t *testing.T) {
	tr := &fakeTranscriber{result: &Transcription{Text: "plain text"}}
	tl := &fakeTranslator{}
	f := newTestFacade(t, tr, tl, &fakeSynthesizer{bytesPerCall: 100})

	out, err := f.Process(context.Background(), speechPhrase(), Options{SourceLanguage: "en", TargetLanguage: "fr"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(tl.calls) != 1 || tl.calls[0] != "plain text" {
		t.Errorf("Expected full text translated once, got %v", tl.calls)
	}
	if len(out.Audio) != 100 {
		t.Errorf("Expected 100 audio bytes, got %d", len(out.Audio))
	}
}

func TestProcessEmptyTranscript(t *testing.T) {
	tl := &fakeTranslator{}
	sy := &fakeSynthesizer{}
	f := newTestFacade(t, &fakeTranscriber{result: &Transcription{Text: "   "}}, tl, sy)

	out, err := f.Process(context.Background(), speechPhrase(), Options{SourceLanguage: "en", TargetLanguage: "ru"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.OriginalText != "" || out.TranslatedText != "" || len(out.Audio) != 0 {
		t.Errorf("Expected empty output, got %+v", out)
	}
	if len(tl.calls) != 0 || len(sy.speakers) != 0 {
		t.Error("Expected no translation or synthesis for empty transcript")
	}
}

func TestProcessErrors(t *testing.T) {
	boom := errors.New("boom")
	transcript := &Transcription{Text: "hi"}

	tests := []struct {
		name  string
		tr    Transcriber
		tl    Translator
		sy    Synthesizer
		stage string
	}{
		{
			name:  "transcription",
			tr:    &fakeTranscriber{err: boom},
			tl:    &fakeTranslator{},
			sy:    &fakeSynthesizer{},
			stage: StageTranscribe,
		},
		{
			name:  "translation",
			tr:    &fakeTranscriber{result: transcript},
			tl:    &fakeTranslator{err: boom},
			sy:    &fakeSynthesizer{},
			stage: StageTranslate,
		},
		{
			name:  "synthesis",
			tr:    &fakeTranscriber{result: transcript},
			tl:    &fakeTranslator{},
			sy:    &fakeSynthesizer{err: boom},
			stage: StageSynthesize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFacade(t, tt.tr, tt.tl, tt.sy)
			_, err := f.Process(context.Background(), speechPhrase(), Options{SourceLanguage: "en", TargetLanguage: "ru"})
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !errors.Is(err, boom) {
				t.Errorf("Expected wrapped cause, got %v", err)
			}
			if got := StageOf(err); got != tt.stage {
				t.Errorf("Expected stage %q, got %q", tt.stage, got)
			}
		})
	}

	if StageOf(boom) != "" {
		t.Error("Expected no stage for plain error")
	}
}

func TestProcessWithStub(t *testing.T) {
	stub := NewStub(audio.DefaultFormat)
	f := newTestFacade(t, stub, stub, stub)

	pcm := make([]int16, 24000)
	for i := range pcm {
		pcm[i] = 3000
	}
	phrase := &audio.Phrase{Data: audio.SamplesToBytes(pcm), Duration: time.Second, EndTime: time.Now()}

	out, err := f.Process(context.Background(), phrase, Options{SourceLanguage: "en", TargetLanguage: "ru", Model: "small.en"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.OriginalText != "en phrase of 1000 ms" {
		t.Errorf("Unexpected original text %q", out.OriginalText)
	}
	if out.TranslatedText != "[ru] en phrase of 1000 ms" {
		t.Errorf("Unexpected translated text %q", out.TranslatedText)
	}
	if len(out.Audio) == 0 || len(out.Audio)%2 != 0 {
		t.Errorf("Expected whole-frame synthesized audio, got %d bytes", len(out.Audio))
	}
}
