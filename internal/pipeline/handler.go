package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Artuar/babelTower/internal/audio"
)

const maxUploadSize = 32 << 20

// Handler serves the three capabilities over HTTP in the wire format Client
// speaks: multipart WAV on /transcribe, JSON on /translate and JSON in, WAV
// out on /synthesize.
type Handler struct {
	transcriber Transcriber
	translator  Translator
	synthesizer Synthesizer
	format      audio.Format
	apiKey      string
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewHandler creates a capability handler producing speech in format. When
// apiKey is set, requests must carry it as a bearer token.
func NewHandler(transcriber Transcriber, translator Translator, synthesizer Synthesizer,
	format audio.Format, apiKey string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		transcriber: transcriber,
		translator:  translator,
		synthesizer: synthesizer,
		format:      format,
		apiKey:      apiKey,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	h.mux.HandleFunc("/"+StageTranscribe, h.guard(h.handleTranscribe))
	h.mux.HandleFunc("/"+StageTranslate, h.guard(h.handleTranslate))
	h.mux.HandleFunc("/"+StageSynthesize, h.guard(h.handleSynthesize))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// guard enforces POST and the bearer token
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+h.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	wav, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		http.Error(w, "Audio file is not PCM WAV", http.StatusBadRequest)
		return
	}

	opts := TranscribeOptions{
		Language: r.FormValue("language"),
		Model:    r.FormValue("model"),
		Format:   format,
	}
	transcription, err := h.transcriber.Transcribe(r.Context(), pcm, opts)
	if err != nil {
		h.fail(w, StageTranscribe, err)
		return
	}

	h.logger.Debug("Transcribed phrase",
		slog.String("language", opts.Language),
		slog.String("model", opts.Model),
		slog.Duration("duration", format.Duration(len(pcm))),
		slog.String("text", transcription.Text))

	writeJSON(w, transcription)
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	text, err := h.translator.Translate(r.Context(), req.Text, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		h.fail(w, StageTranslate, err)
		return
	}

	writeJSON(w, translateResponse{Text: text})
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SampleRate != 0 && req.SampleRate != h.format.SampleRate {
		http.Error(w, ErrFormatMismatch.Error(), http.StatusBadRequest)
		return
	}

	pcm, err := h.synthesizer.Synthesize(r.Context(), req.Text, req.Language, req.Speaker)
	if err != nil {
		h.fail(w, StageSynthesize, err)
		return
	}

	wav, err := audio.EncodeWAV(pcm, h.format)
	if err != nil {
		h.fail(w, StageSynthesize, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Write(wav)
}

// fail maps capability errors to status codes. Caller mistakes are 400 and
// are not retried by Client.
func (h *Handler) fail(w http.ResponseWriter, stage string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrUnsupportedLanguage) || errors.Is(err, ErrEmptyText) {
		status = http.StatusBadRequest
	}

	h.logger.Warn("Capability request failed",
		slog.String("stage", stage),
		slog.Int("status", status),
		slog.String("error", err.Error()))

	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
