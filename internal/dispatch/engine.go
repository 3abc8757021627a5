package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/metrics"
	"github.com/Artuar/babelTower/internal/pipeline"
)

// ProcessFunc turns a phrase into a pipeline output
type ProcessFunc func(ctx context.Context, phrase *audio.Phrase) (*pipeline.Output, error)

// Sink receives a stream's results in sequence order. Calls for one stream
// never overlap.
type Sink func(result Result)

// Result is the outcome of one job. Exactly one Result is produced per
// submitted index.
type Result struct {
	Seq         uint64
	Phrase      *audio.Phrase
	Output      *pipeline.Output
	Err         error
	QueueWait   time.Duration
	ProcessTime time.Duration
}

// Sequence implements Sequenced
func (r Result) Sequence() uint64 {
	return r.Seq
}

// EngineConfig contains worker pool configuration
type EngineConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration // 0 disables the per-job deadline
}

// EngineStats represents engine statistics
type EngineStats struct {
	Workers       int    `json:"workers"`
	QueueLength   int    `json:"queue_length"`
	QueueCapacity int    `json:"queue_capacity"`
	Submitted     uint64 `json:"submitted"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Panics        uint64 `json:"panics"`
	Discarded     uint64 `json:"discarded"`
	Streams       int64  `json:"streams"`
}

type job struct {
	stream     *Stream
	seq        uint64
	phrase     *audio.Phrase
	process    ProcessFunc
	enqueuedAt time.Time
}

// Engine is a fixed pool of workers draining one FIFO job queue shared by
// all streams
type Engine struct {
	config  EngineConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	jobs    chan *job
	stopped chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Held shared by Submit while enqueueing so Stop can drain safely
	submitMu sync.RWMutex
	started  bool
	halted   bool
	stopOnce sync.Once

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
	discarded atomic.Uint64
	streams   atomic.Int64
}

// NewEngine creates a dispatch engine. Workers defaults to 4 and QueueSize
// to 16 per worker.
func NewEngine(config EngineConfig, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if config.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", config.Workers)
	}
	if config.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must not be negative, got %d", config.QueueSize)
	}
	if config.Workers == 0 {
		config.Workers = 4
	}
	if config.QueueSize == 0 {
		config.QueueSize = config.Workers * 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config:  config,
		logger:  logger,
		metrics: m,
		jobs:    make(chan *job, config.QueueSize),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches the worker pool. Workers exit when ctx is canceled or Stop
// is called.
func (e *Engine) Start(ctx context.Context) error {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if e.halted {
		return ErrEngineStopped
	}
	if e.started {
		return fmt.Errorf("dispatch engine already started")
	}
	e.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go e.worker(workerCtx, i)
	}

	e.logger.Info("Dispatch engine started",
		slog.Int("workers", e.config.Workers),
		slog.Int("queue_size", e.config.QueueSize))

	return nil
}

// Stop halts the workers and completes every queued job with
// ErrEngineStopped. Jobs already running finish first.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)

		// Wait for submitters blocked on a full queue to leave
		e.submitMu.Lock()
		e.halted = true
		cancel := e.cancel
		e.submitMu.Unlock()

		if cancel != nil {
			cancel()
		}
		e.wg.Wait()

		drained := 0
	drain:
		for {
			select {
			case j := <-e.jobs:
				j.stream.complete(Result{Seq: j.seq, Phrase: j.phrase, Err: ErrEngineStopped})
				drained++
			default:
				break drain
			}
		}
		e.metrics.SetQueueSize(0)

		e.logger.Info("Dispatch engine stopped",
			slog.Int("abandoned_jobs", drained),
			slog.Uint64("completed", e.completed.Load()))
	})
}

// NewStream creates an ordered result stream. process runs on the shared
// workers; sink receives results in submission order.
func (e *Engine) NewStream(name string, process ProcessFunc, sink Sink) *Stream {
	e.streams.Add(1)
	return &Stream{
		engine:  e,
		name:    name,
		process: process,
		sink:    sink,
		reorder: NewReorderBuffer[Result](),
		logger:  e.logger.With(slog.String("stream", name)),
	}
}

// GetStats returns current engine statistics
func (e *Engine) GetStats() EngineStats {
	return EngineStats{
		Workers:       e.config.Workers,
		QueueLength:   len(e.jobs),
		QueueCapacity: cap(e.jobs),
		Submitted:     e.submitted.Load(),
		Completed:     e.completed.Load(),
		Failed:        e.failed.Load(),
		Panics:        e.panics.Load(),
		Discarded:     e.discarded.Load(),
		Streams:       e.streams.Load(),
	}
}

func (e *Engine) enqueue(ctx context.Context, j *job) error {
	e.submitMu.RLock()
	defer e.submitMu.RUnlock()

	if e.halted {
		return ErrEngineStopped
	}

	select {
	case e.jobs <- j:
		e.submitted.Add(1)
		e.metrics.RecordJobSubmitted()
		e.metrics.SetQueueSize(len(e.jobs))
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopped:
			return
		case j := <-e.jobs:
			e.metrics.SetQueueSize(len(e.jobs))
			e.run(ctx, j, id)
		}
	}
}

func (e *Engine) run(ctx context.Context, j *job, workerID int) {
	result := Result{
		Seq:       j.seq,
		Phrase:    j.phrase,
		QueueWait: time.Since(j.enqueuedAt),
	}

	// Skip the work entirely for streams nobody is listening to
	if j.stream.closed.Load() {
		j.stream.complete(result)
		return
	}

	if e.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	output, panicked, err := e.safeProcess(ctx, j)
	result.ProcessTime = time.Since(start)
	result.Output = output
	result.Err = err

	outcome := "success"
	switch {
	case panicked:
		outcome = "panic"
		e.panics.Add(1)
		e.failed.Add(1)
	case err != nil:
		outcome = "error"
		e.failed.Add(1)
	}
	e.completed.Add(1)
	e.metrics.RecordJobCompleted(outcome, result.QueueWait.Seconds(), result.ProcessTime.Seconds())

	if err != nil {
		j.stream.logger.Warn("Phrase processing failed",
			slog.Uint64("seq", j.seq),
			slog.Int("worker", workerID),
			slog.String("error", err.Error()))
	}

	j.stream.complete(result)
}

func (e *Engine) safeProcess(ctx context.Context, j *job) (output *pipeline.Output, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			j.stream.logger.Error("Panic while processing phrase",
				slog.Uint64("seq", j.seq),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			output, panicked, err = nil, true, fmt.Errorf("panic while processing phrase %d: %v", j.seq, r)
		}
	}()

	output, err = j.process(ctx, j.phrase)
	if err == nil && output == nil {
		err = errors.New("processor returned no output")
	}
	return output, false, err
}

// Stream assigns sequence indices to one participant's phrases and delivers
// their results in order
type Stream struct {
	engine  *Engine
	name    string
	process ProcessFunc
	sink    Sink
	reorder *ReorderBuffer[Result]
	logger  *slog.Logger

	submitMu sync.Mutex
	next     uint64

	deliverMu sync.Mutex
	closed    atomic.Bool
	delivered uint64
	discarded uint64
}

// StreamStats represents stream statistics
type StreamStats struct {
	Name      string `json:"name"`
	Submitted uint64 `json:"submitted"`
	Delivered uint64 `json:"delivered"`
	Discarded uint64 `json:"discarded"`
	Pending   int    `json:"pending"`
	Closed    bool   `json:"closed"`
}

// Submit assigns the next sequence index to phrase and queues it for
// processing. It blocks while the shared queue is full. When queueing is
// aborted the index still completes, with the error as its result, so later
// results are not held back.
func (s *Stream) Submit(ctx context.Context, phrase *audio.Phrase) (uint64, error) {
	return s.SubmitWith(ctx, phrase, s.process)
}

// SubmitWith is Submit with process used for this phrase instead of the
// stream's ProcessFunc. Callers bind per-phrase settings into process at
// submission time.
func (s *Stream) SubmitWith(ctx context.Context, phrase *audio.Phrase, process ProcessFunc) (uint64, error) {
	if process == nil {
		return 0, ErrNoProcessFunc
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.closed.Load() {
		return 0, ErrStreamClosed
	}

	seq := s.next
	s.next++

	j := &job{stream: s, seq: seq, phrase: phrase, process: process, enqueuedAt: time.Now()}
	if err := s.engine.enqueue(ctx, j); err != nil {
		s.complete(Result{Seq: seq, Phrase: phrase, Err: err})
		return seq, err
	}

	return seq, nil
}

// Close stops delivery. Jobs already queued or running still finish but
// their results are discarded. After Close returns the sink is not called
// again.
func (s *Stream) Close() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.closed.Swap(true) {
		return
	}
	s.engine.streams.Add(-1)
}

// Name returns the stream name
func (s *Stream) Name() string {
	return s.name
}

// Stats returns stream statistics
func (s *Stream) Stats() StreamStats {
	s.submitMu.Lock()
	submitted := s.next
	s.submitMu.Unlock()

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	return StreamStats{
		Name:      s.name,
		Submitted: submitted,
		Delivered: s.delivered,
		Discarded: s.discarded,
		Pending:   s.reorder.Pending(),
		Closed:    s.closed.Load(),
	}
}

func (s *Stream) complete(result Result) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.closed.Load() {
		s.discarded++
		s.engine.discarded.Add(1)
		s.engine.metrics.RecordResultDiscarded()
		return
	}

	released, err := s.reorder.Accept(result)
	if err != nil {
		s.engine.metrics.RecordOrderingViolation()
		s.logger.Error("Discarding out-of-order result",
			slog.Uint64("seq", result.Seq),
			slog.String("error", err.Error()))
		return
	}

	for _, r := range released {
		s.delivered++
		s.sink(r)
	}
}
