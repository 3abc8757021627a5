package session

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Artuar/babelTower/internal/metrics"
)

// State is the lifecycle state of a session
type State int

const (
	StateCreated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is notified about the other participant of its session. Calls are
// made without any manager lock held.
type Peer interface {
	PeerJoined(sessionID, participantID string)
	PeerLeft(sessionID, participantID string)
}

// ProcessorState is a participant's translation configuration
type ProcessorState struct {
	SourceLanguage string    `json:"language_from"`
	TargetLanguage string    `json:"language_to"`
	Model          string    `json:"model_name"`
	Speaker        string    `json:"speaker"`
	LastActivity   time.Time `json:"last_activity"`
}

// Participant is one side of a session
type Participant struct {
	ID        string
	Peer      Peer
	Processor ProcessorState
	JoinedAt  time.Time
}

// Session pairs an initiator with at most one joiner
type Session struct {
	ID        string
	A         *Participant
	B         *Participant
	State     State
	CreatedAt time.Time
}

func (s *Session) member(participantID string) (self, other *Participant, ok bool) {
	switch {
	case s.A != nil && s.A.ID == participantID:
		return s.A, s.B, true
	case s.B != nil && s.B.ID == participantID:
		return s.B, s.A, true
	default:
		return nil, nil, false
	}
}

// ParticipantInfo is a monitoring snapshot of a participant
type ParticipantInfo struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Processor ProcessorState `json:"processor"`
	JoinedAt  time.Time      `json:"joined_at"`
}

// SessionInfo is a monitoring snapshot of a session
type SessionInfo struct {
	ID           string            `json:"id"`
	State        string            `json:"state"`
	CreatedAt    time.Time         `json:"created_at"`
	Duration     time.Duration     `json:"duration"`
	Participants []ParticipantInfo `json:"participants"`
}

// Manager owns all sessions. All transitions happen under one lock.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager creates an empty session manager
func NewManager(logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  m,
	}
}

// NewSessionID returns a random session id as 32 hex characters
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateSession creates a session with participantID as its initiator and
// returns the new session id
func (m *Manager) CreateSession(participantID string, peer Peer, proc ProcessorState) (string, error) {
	if participantID == "" || peer == nil {
		return "", ErrInvalidParticipant
	}

	now := time.Now()
	session := &Session{
		ID:        NewSessionID(),
		A:         &Participant{ID: participantID, Peer: peer, Processor: proc, JoinedAt: now},
		State:     StateCreated,
		CreatedAt: now,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.metrics.RecordSessionCreated()

	m.logger.Info("Created new session",
		slog.String("session_id", session.ID),
		slog.String("participant_id", participantID),
		slog.String("language_from", proc.SourceLanguage),
		slog.String("language_to", proc.TargetLanguage))

	return session.ID, nil
}

// JoinSession adds participantID as the second participant. Joining again as
// the same second participant succeeds without side effects. Failures are
// returned as *SessionError.
func (m *Manager) JoinSession(sessionID, participantID string, peer Peer, proc ProcessorState) error {
	if participantID == "" || peer == nil {
		return ErrInvalidParticipant
	}

	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if err := m.checkJoinLocked(session, exists, sessionID, participantID); err != nil {
		m.mu.Unlock()
		m.metrics.RecordJoinRejected(string(err.Reason))
		m.logger.Warn("Rejected session join",
			slog.String("session_id", sessionID),
			slog.String("participant_id", participantID),
			slog.String("reason", string(err.Reason)))
		return err
	}

	if session.B != nil {
		// Same participant joining twice
		m.mu.Unlock()
		return nil
	}

	session.B = &Participant{ID: participantID, Peer: peer, Processor: proc, JoinedAt: time.Now()}
	session.State = StateActive
	initiator := session.A
	active := m.countActiveLocked()
	m.mu.Unlock()

	m.metrics.RecordSessionJoined()
	m.metrics.SetActiveSessions(active)

	m.logger.Info("Participant joined session",
		slog.String("session_id", sessionID),
		slog.String("participant_id", participantID),
		slog.String("initiator_id", initiator.ID))

	initiator.Peer.PeerJoined(sessionID, participantID)
	return nil
}

func (m *Manager) checkJoinLocked(session *Session, exists bool, sessionID, participantID string) *SessionError {
	switch {
	case !exists:
		return &SessionError{SessionID: sessionID, Reason: ReasonNotFound}
	case session.State == StateClosed:
		return &SessionError{SessionID: sessionID, Reason: ReasonClosed}
	case session.A.ID == participantID:
		return &SessionError{SessionID: sessionID, Reason: ReasonSelfJoin}
	case session.B != nil && session.B.ID != participantID:
		return &SessionError{SessionID: sessionID, Reason: ReasonOccupied}
	}
	return nil
}

// GetPeer returns the other participant of an active session. It reports
// false when the session is not active or participantID is not part of it.
func (m *Manager) GetPeer(sessionID, participantID string) (Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists || session.State != StateActive {
		return nil, false
	}

	_, other, ok := session.member(participantID)
	if !ok || other == nil {
		return nil, false
	}
	return other.Peer, true
}

// UpdateProcessor replaces the processor state of participantID. It reports
// false when the participant is not part of an open session.
func (m *Manager) UpdateProcessor(sessionID, participantID string, proc ProcessorState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists || session.State == StateClosed {
		return false
	}
	self, _, ok := session.member(participantID)
	if !ok {
		return false
	}
	self.Processor = proc
	return true
}

// RemoveSession closes a session because leaverID left. The remaining
// participant, if any, is notified exactly once. Unknown sessions and
// non-members are ignored.
func (m *Manager) RemoveSession(sessionID, leaverID string) bool {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return false
	}

	_, remaining, ok := session.member(leaverID)
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Ignoring removal by non-member",
			slog.String("session_id", sessionID),
			slog.String("participant_id", leaverID))
		return false
	}

	wasActive := session.State == StateActive
	session.State = StateClosed
	delete(m.sessions, sessionID)
	active := m.countActiveLocked()
	m.mu.Unlock()

	duration := time.Since(session.CreatedAt)
	m.metrics.RecordSessionClosed(duration.Seconds())
	if wasActive {
		m.metrics.SetActiveSessions(active)
	}

	m.logger.Info("Session removed",
		slog.String("session_id", sessionID),
		slog.String("leaver_id", leaverID),
		slog.Bool("was_active", wasActive),
		slog.Duration("duration", duration))

	if remaining != nil {
		remaining.Peer.PeerLeft(sessionID, leaverID)
	}
	return true
}

// GetSession returns a snapshot of one session
func (m *Manager) GetSession(sessionID string) (SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return SessionInfo{}, false
	}
	return snapshot(session), true
}

// GetAllSessions returns snapshots of all sessions, oldest first
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, snapshot(session))
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// GetActiveSessionCount returns the number of sessions with two participants
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countActiveLocked()
}

// GetSessionCount returns the number of open sessions
func (m *Manager) GetSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) countActiveLocked() int {
	count := 0
	for _, session := range m.sessions {
		if session.State == StateActive {
			count++
		}
	}
	return count
}

func snapshot(s *Session) SessionInfo {
	info := SessionInfo{
		ID:        s.ID,
		State:     s.State.String(),
		CreatedAt: s.CreatedAt,
		Duration:  time.Since(s.CreatedAt),
	}
	if s.A != nil {
		info.Participants = append(info.Participants, participantInfo(s.A, "initiator"))
	}
	if s.B != nil {
		info.Participants = append(info.Participants, participantInfo(s.B, "joiner"))
	}
	return info
}

func participantInfo(p *Participant, role string) ParticipantInfo {
	return ParticipantInfo{
		ID:        p.ID,
		Role:      role,
		Processor: p.Processor,
		JoinedAt:  p.JoinedAt,
	}
}
