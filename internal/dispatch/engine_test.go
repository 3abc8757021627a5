package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T, config EngineConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(config, testLogger(), nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	t.Cleanup(engine.Stop)
	return engine
}

// phrase tags a phrase through its chunk count so processors can tell them apart
func phrase(tag int) *audio.Phrase {
	return &audio.Phrase{Chunks: tag, Data: []byte{0, 0}}
}

func collect(t *testing.T, results <-chan Result, n int, timeout time.Duration) []Result {
	t.Helper()
	var out []Result
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case r := <-results:
			out = append(out, r)
		case <-deadline:
			t.Fatalf("Timed out after %d of %d results", len(out), n)
		}
	}
	return out
}

func echo(ctx context.Context, p *audio.Phrase) (*pipeline.Output, error) {
	return &pipeline.Output{OriginalText: string(rune('a' + p.Chunks))}, nil
}

func TestNewEngineDefaults(t *testing.T) {
	engine, err := NewEngine(EngineConfig{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	stats := engine.GetStats()
	if stats.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", stats.Workers)
	}
	if stats.QueueCapacity != 64 {
		t.Errorf("Expected queue capacity 64, got %d", stats.QueueCapacity)
	}

	if _, err := NewEngine(EngineConfig{Workers: -1}, testLogger(), nil); err == nil {
		t.Error("Expected error for negative workers")
	}
}

func TestEngineStartTwice(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 1})
	if err := engine.Start(context.Background()); err == nil {
		t.Error("Expected error when starting twice")
	}
}

func TestStreamDeliversInOrderDespiteOutOfOrderCompletion(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 4})
	results := make(chan Result, 32)

	const n = 12
	process := func(ctx context.Context, p *audio.Phrase) (*pipeline.Output, error) {
		// Earlier phrases take longer
		time.Sleep(time.Duration(n-p.Chunks) * 5 * time.Millisecond)
		return echo(ctx, p)
	}
	stream := engine.NewStream("ordered", process, func(r Result) { results <- r })

	for i := 0; i < n; i++ {
		seq, err := stream.Submit(context.Background(), phrase(i))
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if seq != uint64(i) {
			t.Fatalf("Expected index %d, got %d", i, seq)
		}
	}

	out := collect(t, results, n, 5*time.Second)
	for i, r := range out {
		if r.Seq != uint64(i) {
			t.Errorf("Position %d: expected index %d, got %d", i, i, r.Seq)
		}
		if r.Phrase.Chunks != i {
			t.Errorf("Position %d: result carries phrase %d", i, r.Phrase.Chunks)
		}
	}
}

func TestStreamHoldsResultsBehindSlowFirstPhrase(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 2})
	results := make(chan Result, 8)

	release := make(chan struct{})
	process := func(ctx context.Context, p *audio.Phrase) (*pipeline.Output, error) {
		if p.Chunks == 0 {
			<-release
		}
		return echo(ctx, p)
	}
	stream := engine.NewStream("held", process, func(r Result) { results <- r })

	stream.Submit(context.Background(), phrase(0))
	stream.Submit(context.Background(), phrase(1))

	select {
	case r := <-results:
		t.Fatalf("Result %d delivered before index 0 completed", r.Seq)
	case <-time.After(100 * time.Millisecond):
	}

	if stream.Stats().Pending != 1 {
		t.Errorf("Expected 1 pending result, got %d", stream.Stats().Pending)
	}

	close(release)
	out := collect(t, results, 2, 2*time.Second)
	if out[0].Seq != 0 || out[1].Seq != 1 {
		t.Errorf("Expected [0 1], got [%d %d]", out[0].Seq, out[1].Seq)
	}
}

func TestStreamErrorsAndPanicsKeepOrdering(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 3})
	results := make(chan Result, 8)
	boom := errors.New("capability down")

	process := func(ctx context.Context, p *audio.Phrase) (*pipeline.Output, error) {
		switch p.Chunks {
		case 1:
			return nil, boom
		case 2:
			panic("processor bug")
		case 3:
			return nil, nil
		}
		return echo(ctx, p)
	}
	stream := engine.NewStream("faulty", process, func(r Result) { results <- r })

	for i := 0; i < 5; i++ {
		stream.Submit(context.Background(), phrase(i))
	}

	out := collect(t, results, 5, 2*time.Second)
	for i, r := range out {
		if r.Seq != uint64(i) {
			t.Fatalf("Position %d: expected index %d, got %d", i, i, r.Seq)
		}
	}

	if out[0].Err != nil || out[4].Err != nil {
		t.Error("Expected successful results at indices 0 and 4")
	}
	if !errors.Is(out[1].Err, boom) {
		t.Errorf("Expected processing error at index 1, got %v", out[1].Err)
	}
	if out[2].Err == nil || out[2].Output != nil {
		t.Error("Expected panic converted to an empty error result at index 2")
	}
	if out[3].Err == nil {
		t.Error("Expected error for missing output at index 3")
	}

	stats := engine.GetStats()
	if stats.Panics != 1 || stats.Failed != 3 {
		t.Errorf("Expected 1 panic and 3 failures, got %+v", stats)
	}
}

func TestSubmitBackpressure(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 1, QueueSize: 1})
	results := make(chan Result, 8)

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	process := func(ctx context.Context, p *audio.Phrase) (*pipeline.Output, error) {
		started <- struct{}{}
		<-release
		return echo(ctx, p)
	}
	stream := engine.NewStream("busy", process, func(r Result) { results <- r })

	// Index 0 occupies the worker, index 1 fills the queue
	stream.Submit(context.Background(), phrase(0))
	<-started
	stream.Submit(context.Background(), phrase(1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	seq, err := stream.Submit(ctx, phrase(2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected Submit to block until deadline, got %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("Expected Submit to block on a full queue")
	}
	if seq != 2 {
		t.Errorf("Expected aborted submit to consume index 2, got %d", seq)
	}

	// The next submission blocks until a slot frees up, then proceeds
	done := make(chan error, 1)
	go func() {
		_, err := stream.Submit(context.Background(), phrase(3))
		done <- err
	}()

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Submit after release failed: %v", err)
	}

	out := collect(t, results, 4, 2*time.Second)
	for i, r := range out {
		if r.Seq != uint64(i) {
			t.Errorf("Position %d: expected index %d, got %d", i, i, r.Seq)
		}
	}
	if !errors.Is(out[2].Err, context.DeadlineExceeded) {
		t.Errorf("Expected aborted index 2 to carry the submit error, got %v", out[2].Err)
	}
}

func TestStreamCloseDiscardsResults(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 1})

	var mu sync.Mutex
	delivered := 0
	release := make(chan struct{})
	finished := make(chan struct{}, 4)

	process := func(ctx context.Context, p *audio.Phrase) (*pipeline.Output, error) {
		defer func() { finished <- struct{}{} }()
		<-release
		return echo(ctx, p)
	}
	stream := engine.NewStream("closing", process, func(r Result) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	stream.Submit(context.Background(), phrase(0))
	stream.Submit(context.Background(), phrase(1))
	stream.Close()
	close(release)

	<-finished
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Errorf("Expected no deliveries after close, got %d", delivered)
	}
	if stats := stream.Stats(); !stats.Closed || stats.Discarded != 2 {
		t.Errorf("Expected closed stream with 2 discarded results, got %+v", stats)
	}

	if _, err := stream.Submit(context.Background(), phrase(2)); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Expected ErrStreamClosed, got %v", err)
	}
}

func TestStreamsShareWorkers(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 2})

	resultsA := make(chan Result, 16)
	resultsB := make(chan Result, 16)
	streamA := engine.NewStream("a", echo, func(r Result) { resultsA <- r })
	streamB := engine.NewStream("b", echo, func(r Result) { resultsB <- r })

	for i := 0; i < 5; i++ {
		streamA.Submit(context.Background(), phrase(i))
		streamB.Submit(context.Background(), phrase(i))
	}

	for name, ch := range map[string]chan Result{"a": resultsA, "b": resultsB} {
		out := collect(t, ch, 5, 2*time.Second)
		for i, r := range out {
			if r.Seq != uint64(i) {
				t.Errorf("Stream %s position %d: expected index %d, got %d", name, i, i, r.Seq)
			}
		}
	}

	if engine.GetStats().Streams != 2 {
		t.Errorf("Expected 2 open streams, got %d", engine.GetStats().Streams)
	}
}

func TestEngineStopCompletesQueuedJobs(t *testing.T) {
	engine, err := NewEngine(EngineConfig{Workers: 1, QueueSize: 4}, testLogger(), nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	results := make(chan Result, 8)
	stream := engine.NewStream("stopped", echo, func(r Result) { results <- r })

	// Not started: jobs wait in the queue
	stream.Submit(context.Background(), phrase(0))
	stream.Submit(context.Background(), phrase(1))

	engine.Stop()

	out := collect(t, results, 2, time.Second)
	for i, r := range out {
		if r.Seq != uint64(i) {
			t.Errorf("Position %d: expected index %d, got %d", i, i, r.Seq)
		}
		if !errors.Is(r.Err, ErrEngineStopped) {
			t.Errorf("Expected ErrEngineStopped, got %v", r.Err)
		}
	}

	seq, err := stream.Submit(context.Background(), phrase(2))
	if !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Expected ErrEngineStopped after stop, got %v", err)
	}
	if seq != 2 {
		t.Errorf("Expected index 2, got %d", seq)
	}
	if r := <-results; r.Seq != 2 || !errors.Is(r.Err, ErrEngineStopped) {
		t.Errorf("Expected error result for index 2, got %+v", r)
	}

	if err := engine.Start(context.Background()); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Expected restart to fail, got %v", err)
	}
}

func TestSubmitWithBindsProcess(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{Workers: 1})

	results := make(chan Result, 4)
	stream := engine.NewStream("bound", echo, func(r Result) { results <- r })

	if _, err := stream.SubmitWith(context.Background(), phrase(0), nil); !errors.Is(err, ErrNoProcessFunc) {
		t.Fatalf("Expected ErrNoProcessFunc, got %v", err)
	}

	tagged := func(tag string) ProcessFunc {
		return func(ctx context.Context, p *audio.Phrase) (*pipeline.Output, error) {
			return &pipeline.Output{OriginalText: tag}, nil
		}
	}
	stream.SubmitWith(context.Background(), phrase(0), tagged("first"))
	stream.Submit(context.Background(), phrase(1))
	stream.SubmitWith(context.Background(), phrase(2), tagged("third"))

	out := collect(t, results, 3, 2*time.Second)
	expected := []string{"first", "b", "third"}
	for i, r := range out {
		if r.Seq != uint64(i) {
			t.Errorf("Position %d: expected index %d, got %d", i, i, r.Seq)
		}
		if r.Output == nil || r.Output.OriginalText != expected[i] {
			t.Errorf("Position %d: expected %q, got %+v", i, expected[i], r.Output)
		}
	}
}
