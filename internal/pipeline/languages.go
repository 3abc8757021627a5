package pipeline

import (
	"sort"
	"strings"
)

// Language describes a supported language. Languages without a voice model
// can be spoken to the relay but not synthesized.
type Language struct {
	Code           string `json:"code"`
	TranslationKey string `json:"translation_key"`
	VoiceModel     string `json:"voice_model"`
	Speaker        string `json:"speaker"`
}

var languages = map[string]Language{
	"ua": {Code: "ua", TranslationKey: "uk", VoiceModel: "v4_ua", Speaker: "mykyta"},
	"ru": {Code: "ru", TranslationKey: "ru", VoiceModel: "v4_ru", Speaker: "aidar"},
	"fr": {Code: "fr", TranslationKey: "fr", VoiceModel: "v3_fr", Speaker: "fr_0"},
	"de": {Code: "de", TranslationKey: "de", VoiceModel: "v3_de", Speaker: "karlsson"},
	"es": {Code: "es", TranslationKey: "es", VoiceModel: "v3_es", Speaker: "es_0"},
	"en": {Code: "en", TranslationKey: "en", VoiceModel: "v3_en", Speaker: "en_0"},
	"hi": {Code: "hi", TranslationKey: "hi"},
}

// "uk" is the ISO code clients may send for Ukrainian
var languageAliases = map[string]string{
	"uk": "ua",
}

// CanSynthesize reports whether the language can be a translation target
func (l Language) CanSynthesize() bool {
	return l.VoiceModel != ""
}

// LookupLanguage returns the table entry for code
func LookupLanguage(code string) (Language, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if alias, ok := languageAliases[code]; ok {
		code = alias
	}
	lang, ok := languages[code]
	return lang, ok
}

// DefaultSpeaker returns the default voice for a target language, or "" when
// the language is not supported
func DefaultSpeaker(code string) string {
	lang, _ := LookupLanguage(code)
	return lang.Speaker
}

// translationKey returns the code the translation backend expects for a
// language, passing unknown codes through
func translationKey(code string) string {
	if lang, ok := LookupLanguage(code); ok {
		return lang.TranslationKey
	}
	return code
}

// voiceModel returns the synthesis model for a language
func voiceModel(code string) string {
	lang, _ := LookupLanguage(code)
	return lang.VoiceModel
}

// SupportedLanguages returns the supported language codes in sorted order
func SupportedLanguages() []string {
	codes := make([]string, 0, len(languages))
	for code := range languages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ResolveModel returns the recognition model to use. English sources get the
// English-only variant of every model except "large".
func ResolveModel(model, sourceLanguage string) string {
	if model == "" {
		return model
	}
	if src, ok := LookupLanguage(sourceLanguage); ok && src.Code == "en" &&
		!strings.HasPrefix(model, "large") && !strings.HasSuffix(model, ".en") {
		return model + ".en"
	}
	return model
}
