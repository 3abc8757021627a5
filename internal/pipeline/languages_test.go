package pipeline

import "testing"

func TestDefaultSpeaker(t *testing.T) {
	tests := []struct {
		language string
		speaker  string
	}{
		{language: "ua", speaker: "mykyta"},
		{language: "uk", speaker: "mykyta"},
		{language: "ru", speaker: "aidar"},
		{language: "fr", speaker: "fr_0"},
		{language: "de", speaker: "karlsson"},
		{language: "es", speaker: "es_0"},
		{language: "en", speaker: "en_0"},
		{language: "EN", speaker: "en_0"},
		{language: "hi", speaker: ""},
		{language: "jp", speaker: ""},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			if got := DefaultSpeaker(tt.language); got != tt.speaker {
				t.Errorf("Expected speaker %q, got %q", tt.speaker, got)
			}
		})
	}
}

func TestLookupLanguageTranslationKey(t *testing.T) {
	lang, ok := LookupLanguage("ua")
	if !ok {
		t.Fatal("Expected ua to be supported")
	}
	if lang.TranslationKey != "uk" {
		t.Errorf("Expected translation key uk, got %s", lang.TranslationKey)
	}

	if len(SupportedLanguages()) != 7 {
		t.Errorf("Expected 7 supported languages, got %v", SupportedLanguages())
	}
}

func TestCanSynthesize(t *testing.T) {
	tests := []struct {
		language string
		expected bool
	}{
		{language: "en", expected: true},
		{language: "ua", expected: true},
		{language: "ru", expected: true},
		{language: "hi", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			lang, ok := LookupLanguage(tt.language)
			if !ok {
				t.Fatalf("Expected %s to be supported", tt.language)
			}
			if got := lang.CanSynthesize(); got != tt.expected {
				t.Errorf("Expected CanSynthesize %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		source   string
		expected string
	}{
		{name: "english small", model: "small", source: "en", expected: "small.en"},
		{name: "english base", model: "base", source: "en", expected: "base.en"},
		{name: "english large", model: "large", source: "en", expected: "large"},
		{name: "english large-v3", model: "large-v3", source: "en", expected: "large-v3"},
		{name: "already english", model: "small.en", source: "en", expected: "small.en"},
		{name: "russian small", model: "small", source: "ru", expected: "small"},
		{name: "hindi small", model: "small", source: "hi", expected: "small"},
		{name: "empty model", model: "", source: "en", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveModel(tt.model, tt.source); got != tt.expected {
				t.Errorf("Expected model %q, got %q", tt.expected, got)
			}
		})
	}
}
