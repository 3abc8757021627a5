package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordJobSubmitted()
	m.RecordJobSubmitted()
	m.RecordJobCompleted("success", 0.01, 0.2)
	m.RecordStage("translate", 0.1, errors.New("boom"))
	m.RecordJoinRejected("occupied")
	m.SetQueueSize(3)

	if got := testutil.ToFloat64(m.JobsSubmitted); got != 2 {
		t.Errorf("Expected 2 submitted jobs, got %f", got)
	}
	if got := testutil.ToFloat64(m.JobsCompleted.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful job, got %f", got)
	}
	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("translate")); got != 1 {
		t.Errorf("Expected 1 translate failure, got %f", got)
	}
	if got := testutil.ToFloat64(m.JoinRejections.WithLabelValues("occupied")); got != 1 {
		t.Errorf("Expected 1 occupied rejection, got %f", got)
	}
	if got := testutil.ToFloat64(m.QueueSize); got != 3 {
		t.Errorf("Expected queue size 3, got %f", got)
	}

	// A second registry accepts the same metric names
	NewMetrics(prometheus.NewRegistry())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordConnection()
	m.SetActiveConnections(1)
	m.RecordMessageReceived("audio_data")
	m.RecordMessageSent("phrase_result")
	m.RecordConversionError()
	m.SetActiveSessions(1)
	m.RecordSessionCreated()
	m.RecordSessionJoined()
	m.RecordJoinRejected("not_found")
	m.RecordSessionClosed(1)
	m.RecordPhrase(1, false)
	m.SetQueueSize(1)
	m.RecordJobSubmitted()
	m.RecordJobCompleted("error", 0, 0)
	m.RecordResultDiscarded()
	m.RecordOrderingViolation()
	m.RecordStage("transcribe", 0, nil)
	m.RecordStageRetry("transcribe")
	m.RecordHTTPRequest("GET", "/health", "200", 0)
}
