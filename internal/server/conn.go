package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/dispatch"
	"github.com/Artuar/babelTower/internal/pipeline"
	"github.com/Artuar/babelTower/internal/protocol"
	"github.com/Artuar/babelTower/internal/session"
)

// conversationSink receives translated speech produced by the other
// participant of a session
type conversationSink interface {
	deliverConversation(payload protocol.ConversationAudioPayload)
}

// conn is one participant connection. The read loop owns decoding,
// conversion and segmentation; the write loop owns every socket write.
type conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// converter is owned by the read loop
	converter *audio.Converter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup

	// Participant state, guarded by mu. The session manager is never called
	// with mu held.
	mu          sync.Mutex
	initialized bool
	sessionID   string
	proc        session.ProcessorState
	segmenter   *audio.Segmenter
	stream      *dispatch.Stream
	files       *dispatch.Stream
}

// handleWebSocket upgrades the request and serves the connection until it
// closes
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	c, err := s.newConn(ws)
	if err != nil {
		s.logger.Error("Failed to set up connection", slog.String("error", err.Error()))
		ws.Close()
		return
	}
	if !s.register(c) {
		c.cancel()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}
	defer s.wg.Done()

	c.logger.Info("Client connected", slog.String("remote_addr", r.RemoteAddr))
	c.run()
}

func (s *Server) newConn(ws *websocket.Conn) (*conn, error) {
	converter, err := audio.NewConverter(s.format)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio converter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	return &conn{
		id:        id,
		server:    s,
		ws:        ws,
		logger:    s.logger.With(slog.String("participant_id", id)),
		ctx:       ctx,
		cancel:    cancel,
		converter: converter,
		send:      make(chan []byte, s.config.Server.SendQueueSize),
		done:      make(chan struct{}),
	}, nil
}

func (c *conn) run() {
	c.writerWG.Add(1)
	go c.writePump()

	c.readPump()
	c.cleanup()
}

// readPump reads frames until the transport fails
func (c *conn) readPump() {
	cfg := c.server.config.Server
	c.ws.SetReadLimit(cfg.MaxMessageSize)

	pongWait := 2 * cfg.GetPingInterval()
	extend := func() {
		if pongWait > 0 {
			c.ws.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Connection read failed", slog.String("error", err.Error()))
			}
			return
		}
		extend()

		switch msgType {
		case websocket.BinaryMessage:
			c.server.countMessage("binary")
			c.handleAudio(data, audio.FormatPCM)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// writePump serializes frames from the send queue onto the socket and keeps
// the connection alive with pings
func (c *conn) writePump() {
	defer c.writerWG.Done()
	defer c.ws.Close()

	writeTimeout := c.server.config.Server.GetSendTimeout()

	var tick <-chan time.Time
	if interval := c.server.config.Server.GetPingInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("Connection write failed", slog.String("error", err.Error()))
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// closeTransport closes the socket, which ends the read loop and triggers
// cleanup
func (c *conn) closeTransport() {
	c.ws.Close()
}

// cleanup runs once after the read loop exits
func (c *conn) cleanup() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})

	c.mu.Lock()
	stream := c.stream
	files := c.files
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	if files != nil {
		files.Close()
	}
	if sessionID != "" {
		c.server.sessions.RemoveSession(sessionID, c.id)
	}

	c.writerWG.Wait()
	c.server.unregister(c)

	c.logger.Info("Client disconnected", slog.String("session_id", sessionID))
}

// enqueue hands a frame to the writer, waiting at most the send timeout. A
// client that cannot keep up is disconnected.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
	}

	timer := time.NewTimer(c.server.config.Server.GetSendTimeout())
	defer timer.Stop()

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	case <-timer.C:
		c.logger.Warn("Send queue full, closing slow connection",
			slog.Int("queue_size", cap(c.send)))
		c.closeTransport()
		return false
	}
}

// offer hands a frame to the writer without waiting. It is used off the read
// loop: on dispatch workers and from other connections. A full queue means
// the client cannot keep up and it is disconnected.
func (c *conn) offer(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("Send queue full, closing slow connection",
			slog.Int("queue_size", cap(c.send)))
		c.closeTransport()
		return false
	}
}

// sendMessage replies from the read loop, waiting up to the send timeout
func (c *conn) sendMessage(msgType string, payload any) {
	c.post(msgType, payload, c.enqueue)
}

// pushMessage sends from outside the read loop and never blocks
func (c *conn) pushMessage(msgType string, payload any) {
	c.post(msgType, payload, c.offer)
}

func (c *conn) post(msgType string, payload any, put func([]byte) bool) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error("Failed to encode message",
			slog.String("type", msgType),
			slog.String("error", err.Error()))
		return
	}
	if put(frame) {
		c.server.metrics.RecordMessageSent(msgType)
	}
}

func (c *conn) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Error: message, Code: code})
}

func (c *conn) handleText(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.server.countMessage("invalid")
		c.sendError(protocol.CodeInvalidMessage, err.Error())
		return
	}
	c.server.countMessage(env.Type)

	switch env.Type {
	case protocol.TypeInitialize:
		var p protocol.InitializePayload
		if err := decodeValid(env, &p, p.Validate); err != nil {
			c.sendError(protocol.CodeInvalidMessage, err.Error())
			return
		}
		c.handleInitialize(p)

	case protocol.TypeAudioData:
		var p protocol.AudioDataPayload
		if err := decodeValid(env, &p, p.Validate); err != nil {
			c.sendError(protocol.CodeInvalidMessage, err.Error())
			return
		}
		data, mediaFormat, err := audio.DecodePayload(p.Audio)
		if err != nil {
			c.server.countConversionError()
			c.sendError(protocol.CodeConversion, err.Error())
			return
		}
		format := p.Format
		if format == "" {
			format = mediaFormat
		}
		c.handleAudio(data, format)

	case protocol.TypeJoinSession:
		var p protocol.JoinSessionPayload
		if err := decodeValid(env, &p, p.Validate); err != nil {
			c.sendError(protocol.CodeInvalidMessage, err.Error())
			return
		}
		c.handleJoin(p)

	case protocol.TypeTranslateAudio:
		var p protocol.TranslateAudioPayload
		if err := decodeValid(env, &p, p.Validate); err != nil {
			c.sendError(protocol.CodeInvalidMessage, err.Error())
			return
		}
		c.handleTranslateAudio(p)

	default:
		c.sendError(protocol.CodeUnsupported, fmt.Sprintf("unsupported message type %q", env.Type))
	}
}

// decodeValid decodes the envelope payload into v and runs validate on it.
// validate must be a method value bound to v.
func decodeValid(env *protocol.Envelope, v any, validate func() error) error {
	if err := env.DecodePayload(v); err != nil {
		return err
	}
	return validate()
}

func (c *conn) handleInitialize(p protocol.InitializePayload) {
	source, ok := pipeline.LookupLanguage(p.LanguageFrom)
	if !ok {
		c.sendError(protocol.CodeConfiguration, fmt.Sprintf("unsupported source language %q", p.LanguageFrom))
		return
	}
	target, ok := pipeline.LookupLanguage(p.LanguageTo)
	if !ok || !target.CanSynthesize() {
		c.sendError(protocol.CodeConfiguration, fmt.Sprintf("unsupported target language %q", p.LanguageTo))
		return
	}

	speaker := p.Speaker
	if speaker == "" {
		speaker = target.Speaker
	}
	proc := session.ProcessorState{
		SourceLanguage: source.Code,
		TargetLanguage: target.Code,
		Model:          pipeline.ResolveModel(p.ModelName, source.Code),
		Speaker:        speaker,
		LastActivity:   time.Now(),
	}

	c.mu.Lock()
	if !c.initialized {
		segmenter, err := c.newSegmenter()
		if err != nil {
			c.mu.Unlock()
			c.logger.Error("Failed to create segmenter", slog.String("error", err.Error()))
			c.sendError(protocol.CodeInternal, "failed to initialize translator")
			return
		}
		c.segmenter = segmenter
		c.stream = c.server.engine.NewStream(c.id, c.processWith(proc), c.deliver)
		c.files = c.server.engine.NewStream(c.id+"/files", c.processWith(proc), c.deliverFile)
		c.initialized = true
	}
	c.proc = proc
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID == "" || !c.server.sessions.UpdateProcessor(sessionID, c.id, proc) {
		created, err := c.server.sessions.CreateSession(c.id, c, proc)
		if err != nil {
			c.sendError(protocol.CodeSession, err.Error())
			return
		}
		sessionID = created
		c.mu.Lock()
		c.sessionID = created
		c.mu.Unlock()
	}

	c.logger.Info("Translator initialized",
		slog.String("session_id", sessionID),
		slog.String("language_from", proc.SourceLanguage),
		slog.String("language_to", proc.TargetLanguage),
		slog.String("model", proc.Model),
		slog.String("speaker", proc.Speaker))

	c.sendMessage(protocol.TypeInitialized, protocol.InitializedPayload{
		Message:   "Translator initialized",
		SessionID: sessionID,
		Languages: pipeline.SupportedLanguages(),
	})
}

func (c *conn) newSegmenter() (*audio.Segmenter, error) {
	cfg := c.server.config.Segmenter
	return audio.NewSegmenter(audio.SegmenterConfig{
		Format:            c.converter.Target(),
		SilenceDuration:   cfg.GetSilenceDuration(),
		MinPhraseDuration: cfg.GetMinPhraseDuration(),
		MaxPhraseDuration: cfg.GetMaxPhraseDuration(),
		SpeechThreshold:   cfg.GetSpeechThreshold(),
	}, c.server.detector)
}

func (c *conn) handleJoin(p protocol.JoinSessionPayload) {
	c.mu.Lock()
	initialized := c.initialized
	proc := c.proc
	previous := c.sessionID
	c.mu.Unlock()

	if !initialized {
		c.sendError(protocol.CodeConfiguration, "session not initialized: send initialize first")
		return
	}

	if err := c.server.sessions.JoinSession(p.SessionID, c.id, c, proc); err != nil {
		result := protocol.JoinSessionResultPayload{
			Success:   false,
			SessionID: p.SessionID,
			Error:     err.Error(),
		}
		var sessErr *session.SessionError
		if errors.As(err, &sessErr) {
			result.Reason = string(sessErr.Reason)
		}
		c.sendMessage(protocol.TypeJoinSession, result)
		return
	}

	c.mu.Lock()
	c.sessionID = p.SessionID
	c.mu.Unlock()

	if previous != "" && previous != p.SessionID {
		c.server.sessions.RemoveSession(previous, c.id)
	}

	c.sendMessage(protocol.TypeJoinSession, protocol.JoinSessionResultPayload{
		Success:   true,
		SessionID: p.SessionID,
	})
}

// handleAudio converts one chunk, feeds the segmenter and submits a finished
// phrase. Submit blocks while the dispatch queue is full.
func (c *conn) handleAudio(data []byte, format string) {
	c.mu.Lock()
	initialized := c.initialized
	segmenter := c.segmenter
	stream := c.stream
	proc := c.proc
	c.mu.Unlock()

	if !initialized {
		c.sendError(protocol.CodeConfiguration, "session not initialized: send initialize first")
		return
	}

	pcm, err := c.converter.Convert(data, format)
	if err != nil {
		c.server.countConversionError()
		c.logger.Warn("Dropping unconvertible audio chunk",
			slog.String("format", format),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()))
		c.sendError(protocol.CodeConversion, err.Error())
		return
	}

	phrase := segmenter.Feed(audio.Chunk{Data: pcm, ReceivedAt: time.Now()})
	if phrase == nil {
		return
	}
	c.server.metrics.RecordPhrase(phrase.Duration.Seconds(), phrase.Silent)

	// The phrase is translated with the settings in force when it was spoken
	seq, err := stream.SubmitWith(c.ctx, phrase, c.processWith(proc))
	if err != nil {
		c.logger.Warn("Phrase submission aborted",
			slog.Uint64("sequence_index", seq),
			slog.String("error", err.Error()))
		return
	}

	c.logger.Debug("Phrase submitted",
		slog.Uint64("sequence_index", seq),
		slog.Duration("duration", phrase.Duration),
		slog.Bool("silent", phrase.Silent),
		slog.Bool("forced", phrase.Forced))
}

// handleTranslateAudio translates a whole recording as one phrase, without
// segmentation. The reply is a translated_audio message.
func (c *conn) handleTranslateAudio(p protocol.TranslateAudioPayload) {
	c.mu.Lock()
	initialized := c.initialized
	files := c.files
	proc := c.proc
	c.mu.Unlock()

	if !initialized {
		c.sendError(protocol.CodeConfiguration, "session not initialized: send initialize first")
		return
	}

	data, mediaFormat, err := audio.DecodePayload(p.File)
	if err == nil {
		format := p.Format
		if format == "" {
			format = mediaFormat
		}
		data, err = c.convertFile(data, format)
	}
	if err != nil {
		c.server.countConversionError()
		c.logger.Warn("Rejecting unconvertible recording", slog.String("error", err.Error()))
		c.sendError(protocol.CodeConversion, err.Error())
		return
	}

	phrase := audio.WholePhrase(data, c.server.format, time.Now(), c.server.config.Segmenter.GetSpeechThreshold())
	c.server.metrics.RecordPhrase(phrase.Duration.Seconds(), phrase.Silent)

	seq, err := files.SubmitWith(c.ctx, phrase, c.processWith(proc))
	if err != nil {
		c.logger.Warn("Recording submission aborted",
			slog.Uint64("sequence_index", seq),
			slog.String("error", err.Error()))
		return
	}

	c.logger.Info("Recording submitted",
		slog.Uint64("sequence_index", seq),
		slog.Duration("duration", phrase.Duration),
		slog.Bool("silent", phrase.Silent))
}

// convertFile normalizes a recording with a converter of its own so resampler
// state from the live stream is not mixed in
func (c *conn) convertFile(data []byte, format string) ([]byte, error) {
	converter, err := audio.NewConverter(c.server.format)
	if err != nil {
		return nil, err
	}
	pcm, err := converter.Convert(data, format)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, &audio.ConversionError{Format: format, Reason: "recording holds no audio"}
	}
	return pcm, nil
}

// deliverFile is the sink of the recording stream
func (c *conn) deliverFile(result dispatch.Result) {
	if result.Err != nil {
		c.logger.Warn("Recording translation failed",
			slog.Uint64("sequence_index", result.Seq),
			slog.String("stage", pipeline.StageOf(result.Err)),
			slog.String("error", result.Err.Error()))
		c.pushMessage(protocol.TypeError, protocol.ErrorPayload{
			Error: result.Err.Error(),
			Code:  protocol.CodeTranslation,
		})
		return
	}

	out := result.Output
	payload := protocol.TranslatedAudioPayload{
		LogData: protocol.TranslationLog{
			OriginalText:    out.OriginalText,
			TranslatedText:  out.TranslatedText,
			ProcessingDelay: out.ProcessingDelay.Seconds(),
			Silent:          out.Silent,
			Segments:        segmentPayloads(out.Segments),
		},
	}
	if result.Phrase != nil {
		payload.LogData.Timestamp = result.Phrase.EndTime
		payload.LogData.Duration = result.Phrase.Duration.Seconds()
	}
	if wav := c.encodeSpeech(result.Seq, out); wav != "" {
		payload.TranslatedAudio = "data:audio/wav;base64," + wav
	}

	c.pushMessage(protocol.TypeTranslatedAudio, payload)
}

// processWith binds proc into a ProcessFunc that runs on an engine worker
func (c *conn) processWith(proc session.ProcessorState) dispatch.ProcessFunc {
	opts := pipeline.Options{
		SourceLanguage: proc.SourceLanguage,
		TargetLanguage: proc.TargetLanguage,
		Model:          proc.Model,
		Speaker:        proc.Speaker,
	}
	return func(ctx context.Context, phrase *audio.Phrase) (*pipeline.Output, error) {
		return c.server.facade.Process(ctx, phrase, opts)
	}
}

// deliver is the stream sink. It is called in sequence order.
func (c *conn) deliver(result dispatch.Result) {
	payload := protocol.PhraseResultPayload{SequenceIndex: result.Seq}
	if result.Phrase != nil {
		payload.Timestamp = result.Phrase.StartTime
	}

	if result.Err != nil {
		c.logger.Warn("Phrase failed",
			slog.Uint64("sequence_index", result.Seq),
			slog.String("stage", pipeline.StageOf(result.Err)),
			slog.String("error", result.Err.Error()))
		payload.Error = result.Err.Error()
		c.pushMessage(protocol.TypePhraseResult, payload)
		return
	}

	out := result.Output
	payload.OriginalText = out.OriginalText
	payload.TranslatedText = out.TranslatedText
	payload.Silent = out.Silent
	payload.ProcessingDelay = out.ProcessingDelay.Seconds()
	payload.Segments = segmentPayloads(out.Segments)
	payload.Audio = c.encodeSpeech(result.Seq, out)

	c.pushMessage(protocol.TypePhraseResult, payload)

	if payload.Audio == "" {
		return
	}
	c.forward(protocol.ConversationAudioPayload{
		SequenceIndex:  result.Seq,
		OriginalText:   payload.OriginalText,
		TranslatedText: payload.TranslatedText,
		Audio:          payload.Audio,
	})
}

// encodeSpeech returns the synthesized audio as base64 WAV, or "" when there
// is none
func (c *conn) encodeSpeech(seq uint64, out *pipeline.Output) string {
	if len(out.Audio) == 0 {
		return ""
	}
	wav, err := audio.EncodeWAV(out.Audio, out.Format)
	if err != nil {
		c.logger.Error("Failed to encode synthesized audio",
			slog.Uint64("sequence_index", seq),
			slog.String("error", err.Error()))
		return ""
	}
	return audio.EncodePayload(wav)
}

func segmentPayloads(segments []pipeline.TranslatedSegment) []protocol.SegmentPayload {
	var out []protocol.SegmentPayload
	for _, seg := range segments {
		out = append(out, protocol.SegmentPayload{
			Start:          seg.Start,
			End:            seg.End,
			OriginalText:   seg.OriginalText,
			TranslatedText: seg.TranslatedText,
		})
	}
	return out
}

// forward sends translated speech to the other participant, if any
func (c *conn) forward(payload protocol.ConversationAudioPayload) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return
	}

	peer, ok := c.server.sessions.GetPeer(sessionID, c.id)
	if !ok {
		return
	}
	if sink, ok := peer.(conversationSink); ok {
		sink.deliverConversation(payload)
	}
}

func (c *conn) deliverConversation(payload protocol.ConversationAudioPayload) {
	c.pushMessage(protocol.TypeConversationAudio, payload)
}

// PeerJoined implements session.Peer
func (c *conn) PeerJoined(sessionID, participantID string) {
	c.logger.Info("Peer joined", slog.String("session_id", sessionID), slog.String("peer_id", participantID))
	c.pushMessage(protocol.TypePeerJoined, protocol.PeerPayload{SessionID: sessionID, ParticipantID: participantID})
}

// PeerLeft implements session.Peer. The session no longer exists; the next
// initialize opens a new one.
func (c *conn) PeerLeft(sessionID, participantID string) {
	c.mu.Lock()
	if c.sessionID == sessionID {
		c.sessionID = ""
	}
	c.mu.Unlock()

	c.logger.Info("Peer left", slog.String("session_id", sessionID), slog.String("peer_id", participantID))
	c.pushMessage(protocol.TypePeerLeft, protocol.PeerPayload{SessionID: sessionID, ParticipantID: participantID})
}
