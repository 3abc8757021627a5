package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
)

func newStubServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	stub := NewStub(audio.DefaultFormat)
	server := httptest.NewServer(NewHandler(stub, stub, stub, audio.DefaultFormat, apiKey, testLogger()))
	t.Cleanup(server.Close)
	return server
}

func loudPCM(d time.Duration) []byte {
	samples := make([]int16, audio.DefaultFormat.BytesInDuration(d)/2)
	for i := range samples {
		samples[i] = 3000
	}
	return audio.SamplesToBytes(samples)
}

func TestHandlerRoundTrip(t *testing.T) {
	server := newStubServer(t, "secret")
	c := newTestClient(t, server.URL, 0)
	ctx := context.Background()

	transcription, err := c.Transcribe(ctx, loudPCM(800*time.Millisecond), TranscribeOptions{
		Language: "de",
		Model:    "small",
		Format:   audio.DefaultFormat,
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if transcription.Text != "de phrase of 800 ms" {
		t.Errorf("Unexpected transcript %q", transcription.Text)
	}
	if len(transcription.Segments) != 1 {
		t.Errorf("Expected one segment, got %d", len(transcription.Segments))
	}

	translated, err := c.Translate(ctx, transcription.Text, "de", "es")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if translated != "[es] de phrase of 800 ms" {
		t.Errorf("Unexpected translation %q", translated)
	}

	speech, err := c.Synthesize(ctx, "hola", "es", "es_0")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	// 4 runes at 10ms each
	if want := audio.DefaultFormat.BytesInDuration(40 * time.Millisecond); len(speech) != want {
		t.Errorf("Expected %d bytes of speech, got %d", want, len(speech))
	}
}

func TestHandlerFacadeOverHTTP(t *testing.T) {
	server := newStubServer(t, "secret")
	c := newTestClient(t, server.URL, 1)
	f := newTestFacade(t, c, c, c)

	phrase := &audio.Phrase{Data: loudPCM(time.Second), Duration: time.Second, EndTime: time.Now()}
	out, err := f.Process(context.Background(), phrase, Options{SourceLanguage: "en", TargetLanguage: "fr"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.TranslatedText != "[fr] en phrase of 1000 ms" {
		t.Errorf("Unexpected translation %q", out.TranslatedText)
	}
	if len(out.Audio) == 0 {
		t.Error("Expected synthesized audio")
	}
}

func TestHandlerErrors(t *testing.T) {
	server := newStubServer(t, "secret")

	t.Run("unsupported language is not retried", func(t *testing.T) {
		c := newTestClient(t, server.URL, 3)
		_, err := c.Translate(context.Background(), "hello", "en", "xx")

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", apiErr.StatusCode)
		}
		if got := c.GetStats().TotalRetries; got != 0 {
			t.Errorf("Expected no retries, got %d", got)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/translate", "application/json", strings.NewReader(`{"text":"hi"}`))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/synthesize", nil)
		req.Header.Set("Authorization", "Bearer secret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", resp.StatusCode)
		}
	})

	t.Run("sample rate mismatch", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/synthesize",
			strings.NewReader(`{"text":"hi","language":"en","sample_rate":16000}`))
		req.Header.Set("Authorization", "Bearer secret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})
}
