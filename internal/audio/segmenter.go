package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/Artuar/babelTower/internal/vad"
)

// SilenceDetector classifies a PCM window
type SilenceDetector interface {
	IsSilent(window []byte) bool
}

// Chunk is a piece of PCM audio as received from a participant
type Chunk struct {
	Data       []byte
	ReceivedAt time.Time
}

// Phrase is a flushed buffer of contiguous audio ready for the pipeline
type Phrase struct {
	Data      []byte        `json:"-"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Chunks    int           `json:"chunks"`
	Silent    bool          `json:"silent"`
	Forced    bool          `json:"forced"`
}

// SegmenterConfig contains configuration for phrase segmentation
type SegmenterConfig struct {
	Format            Format
	SilenceDuration   time.Duration // trailing silence that closes a phrase
	MinPhraseDuration time.Duration // 0 disables
	MaxPhraseDuration time.Duration // 0 disables
	SpeechThreshold   float64       // whole-phrase mean amplitude below this marks it silent
}

// SegmenterStats represents segmenter statistics
type SegmenterStats struct {
	Phrases       uint64 `json:"phrases"`
	SilentPhrases uint64 `json:"silent_phrases"`
	ForcedFlushes uint64 `json:"forced_flushes"`
	BytesIn       uint64 `json:"bytes_in"`
	Buffered      int    `json:"buffered_bytes"`
}

// Segmenter accumulates chunks for one participant and cuts them into
// phrases on trailing silence
type Segmenter struct {
	config      SegmenterConfig
	detector    SilenceDetector
	windowBytes int
	maxBytes    int
	minBytes    int

	buf       []byte
	chunks    int
	startTime time.Time
	lastTime  time.Time

	stats SegmenterStats
	mu    sync.Mutex
}

// NewSegmenter creates a segmenter using detector for the trailing window test
func NewSegmenter(config SegmenterConfig, detector SilenceDetector) (*Segmenter, error) {
	if detector == nil {
		return nil, fmt.Errorf("silence detector is required")
	}
	if err := config.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}
	if config.SilenceDuration <= 0 {
		return nil, fmt.Errorf("silence duration must be positive, got %v", config.SilenceDuration)
	}
	if config.MinPhraseDuration < 0 || config.MaxPhraseDuration < 0 {
		return nil, fmt.Errorf("phrase duration bounds must not be negative")
	}
	if config.MaxPhraseDuration > 0 && config.MaxPhraseDuration <= config.SilenceDuration {
		return nil, fmt.Errorf("max phrase duration (%v) must exceed silence duration (%v)",
			config.MaxPhraseDuration, config.SilenceDuration)
	}
	if config.SpeechThreshold <= 0 {
		config.SpeechThreshold = vad.DefaultThreshold
	}

	windowBytes := config.Format.BytesInDuration(config.SilenceDuration)
	if windowBytes == 0 {
		return nil, fmt.Errorf("silence duration %v is shorter than one frame", config.SilenceDuration)
	}

	return &Segmenter{
		config:      config,
		detector:    detector,
		windowBytes: windowBytes,
		maxBytes:    config.Format.BytesInDuration(config.MaxPhraseDuration),
		minBytes:    config.Format.BytesInDuration(config.MinPhraseDuration),
	}, nil
}

// Feed appends a chunk and returns a phrase when the buffer's trailing window
// is silent, or when the buffer reaches the maximum phrase length. Empty
// chunks are ignored.
func (s *Segmenter) Feed(chunk Chunk) *Phrase {
	if len(chunk.Data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		s.startTime = chunk.ReceivedAt
	}
	s.buf = append(s.buf, chunk.Data...)
	s.chunks++
	s.lastTime = chunk.ReceivedAt
	s.stats.BytesIn += uint64(len(chunk.Data))

	if s.maxBytes > 0 && len(s.buf) >= s.maxBytes {
		return s.flushLocked(true)
	}

	if len(s.buf) < s.windowBytes {
		return nil
	}

	// Align the tail to the frame grid of the buffer start
	end := len(s.buf) - len(s.buf)%s.config.Format.FrameSize()
	tail := s.buf[end-s.windowBytes : end]
	if !s.detector.IsSilent(tail) {
		return nil
	}

	if s.minBytes > 0 && len(s.buf) < s.minBytes && !s.isSilentLocked() {
		return nil
	}

	return s.flushLocked(false)
}

// Flush finalizes whatever is buffered. Returns nil when the buffer is empty.
func (s *Segmenter) Flush() *Phrase {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return nil
	}
	return s.flushLocked(true)
}

// Buffered returns the number of bytes waiting for a phrase boundary
func (s *Segmenter) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Stats returns segmenter statistics
func (s *Segmenter) Stats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Buffered = len(s.buf)
	return stats
}

func (s *Segmenter) isSilentLocked() bool {
	return vad.MeanAmplitude(s.buf) < s.config.SpeechThreshold
}

// WholePhrase wraps a complete recording as one phrase ending at end, with no
// segmentation. It is silent when its mean amplitude is below speechThreshold.
func WholePhrase(data []byte, format Format, end time.Time, speechThreshold float64) *Phrase {
	data = data[:len(data)-len(data)%format.FrameSize()]
	duration := format.Duration(len(data))

	return &Phrase{
		Data:      data,
		StartTime: end.Add(-duration),
		EndTime:   end,
		Duration:  duration,
		Chunks:    1,
		Silent:    vad.MeanAmplitude(data) < speechThreshold,
	}
}

func (s *Segmenter) flushLocked(forced bool) *Phrase {
	data := s.buf
	// Only whole frames go downstream
	data = data[:len(data)-len(data)%s.config.Format.FrameSize()]

	phrase := &Phrase{
		Data:      data,
		StartTime: s.startTime,
		EndTime:   s.lastTime,
		Duration:  s.config.Format.Duration(len(data)),
		Chunks:    s.chunks,
		Silent:    s.isSilentLocked(),
		Forced:    forced,
	}

	s.stats.Phrases++
	if phrase.Silent {
		s.stats.SilentPhrases++
	}
	if forced {
		s.stats.ForcedFlushes++
	}

	s.buf = nil
	s.chunks = 0
	s.startTime = time.Time{}
	s.lastTime = time.Time{}

	return phrase
}
