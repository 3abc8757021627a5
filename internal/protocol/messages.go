package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client to server message types
const (
	TypeInitialize     = "initialize"
	TypeAudioData      = "audio_data"
	TypeJoinSession    = "join_session"
	TypeTranslateAudio = "translate_audio"
)

// Server to client message types
const (
	TypeInitialized       = "initialized"
	TypePhraseResult      = "phrase_result"
	TypeConversationAudio = "conversation_audio"
	TypePeerJoined        = "peer_joined"
	TypePeerLeft          = "peer_left"
	TypeTranslatedAudio   = "translated_audio"
	TypeError             = "error"
)

// Error codes carried in error payloads
const (
	CodeInvalidMessage = "invalid_message"
	CodeUnsupported    = "unsupported_type"
	CodeConfiguration  = "configuration_error"
	CodeConversion     = "conversion_error"
	CodeSession        = "session_error"
	CodeTranslation    = "translation_error"
	CodeInternal       = "internal_error"
)

// Defaults applied to an initialize message that leaves fields out
const (
	DefaultModel        = "small"
	DefaultLanguageFrom = "en"
	DefaultLanguageTo   = "ru"
)

var (
	// ErrMissingType is returned for envelopes without a message type
	ErrMissingType = errors.New("message type is required")
)

// Envelope is the outer frame of every text message
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitializePayload configures a participant's translation
type InitializePayload struct {
	LanguageFrom string `json:"language_from"`
	LanguageTo   string `json:"language_to"`
	ModelName    string `json:"model_name"`
	Speaker      string `json:"speaker,omitempty"`
}

// AudioDataPayload carries base64 audio or a base64 data URL
type AudioDataPayload struct {
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"` // "pcm" or "wav"; sniffed when empty
}

// JoinSessionPayload asks to join an existing session
type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
}

// TranslateAudioPayload asks for a whole recording to be translated as a
// single phrase
type TranslateAudioPayload struct {
	File   string `json:"file"`             // base64 or data URL
	Format string `json:"format,omitempty"` // "pcm" or "wav"; sniffed when empty
}

// InitializedPayload acknowledges initialize and reports the new session id
type InitializedPayload struct {
	Message   string   `json:"message"`
	SessionID string   `json:"session_id"`
	Languages []string `json:"supported_languages,omitempty"`
}

// SegmentPayload is one timed segment of a phrase result
type SegmentPayload struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	OriginalText   string  `json:"original_text"`
	TranslatedText string  `json:"translated_text"`
}

// PhraseResultPayload is the translation of one of the participant's phrases
type PhraseResultPayload struct {
	SequenceIndex   uint64           `json:"sequence_index"`
	Timestamp       time.Time        `json:"timestamp"`
	OriginalText    string           `json:"original_text"`
	TranslatedText  string           `json:"translated_text"`
	Audio           string           `json:"audio,omitempty"` // base64 WAV
	ProcessingDelay float64          `json:"processing_delay"` // seconds
	Silent          bool             `json:"silent"`
	Segments        []SegmentPayload `json:"segments,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// ConversationAudioPayload forwards a translated phrase to the peer
type ConversationAudioPayload struct {
	SequenceIndex  uint64 `json:"sequence_index"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	Audio          string `json:"audio"`
}

// TranslationLog describes how a recording was translated
type TranslationLog struct {
	Timestamp       time.Time        `json:"timestamp"`
	OriginalText    string           `json:"original_text"`
	TranslatedText  string           `json:"translated_text"`
	Duration        float64          `json:"duration"`         // seconds of source audio
	ProcessingDelay float64          `json:"processing_delay"` // seconds
	Silent          bool             `json:"silent"`
	Segments        []SegmentPayload `json:"segments,omitempty"`
}

// TranslatedAudioPayload answers translate_audio. TranslatedAudio is a WAV
// data URL, empty when the recording held no speech.
type TranslatedAudioPayload struct {
	TranslatedAudio string         `json:"translated_audio"`
	LogData         TranslationLog `json:"log_data"`
}

// JoinSessionResultPayload reports the outcome of join_session
type JoinSessionResultPayload struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PeerPayload announces the arrival or departure of the other participant
type PeerPayload struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
}

// ErrorPayload reports a non-fatal error to the client
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Decode parses an envelope from a text frame
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into v
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode builds a text frame for msgType with payload
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Validate fills in the default languages and model. Whether the languages
// are supported is decided by the pipeline.
func (p *InitializePayload) Validate() error {
	p.LanguageFrom = strings.TrimSpace(p.LanguageFrom)
	p.LanguageTo = strings.TrimSpace(p.LanguageTo)
	if p.LanguageFrom == "" {
		p.LanguageFrom = DefaultLanguageFrom
	}
	if p.LanguageTo == "" {
		p.LanguageTo = DefaultLanguageTo
	}
	if p.ModelName == "" {
		p.ModelName = DefaultModel
	}
	return nil
}

// Validate checks that audio is present
func (p *AudioDataPayload) Validate() error {
	if p.Audio == "" {
		return fmt.Errorf("audio is required")
	}
	return nil
}

// Validate checks that a file is present
func (p *TranslateAudioPayload) Validate() error {
	if p.File == "" {
		return fmt.Errorf("file is required")
	}
	return nil
}

// Validate checks that a session id is present
func (p *JoinSessionPayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	return nil
}
