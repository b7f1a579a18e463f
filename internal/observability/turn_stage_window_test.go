package observability

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.observe(StageGenerate, 500)
	w.observe(StageGenerate, 700)
	w.observe(StageGenerate, 900)
	w.observe(StageTranscribe, 300)
	w.indicate("turn_ok")
	w.indicate("turn_ok")
	w.indicate(" ")

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageGenerate {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageGenerate)
	}
	if s.Samples != 3 || s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("stats = %+v", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 2500 {
		t.Fatalf("TargetP95MS = %.2f, want 2500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one turn_ok x2", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(4)
	for i := 1; i <= 10; i++ {
		w.observe(StageTurnTotal, float64(i*100))
	}
	w.observe(StageTurnTotal, -1)

	s := w.snapshot().Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.AvgMS != 850 {
		t.Fatalf("AvgMS = %.2f, want 850", s.AvgMS)
	}
	if s.LastMS != 1000 {
		t.Fatalf("LastMS = %.2f, want 1000", s.LastMS)
	}
}

var metricsNamespaceSeq atomic.Int64

func TestMetricsObserveStage(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("voxline_obs_test_%d", metricsNamespaceSeq.Add(1)))
	m.ObserveStage(StageGenerate, 1500*time.Millisecond)
	m.IncTurn("ok")
	m.IncDropped("busy")

	snap := m.SnapshotTurnStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 1500 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Indicators) != 2 {
		t.Fatalf("Indicators = %+v, want 2", snap.Indicators)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveStage(StageGenerate, time.Second)
	nilMetrics.IncTurn("ok")
	if got := nilMetrics.SnapshotTurnStages(); len(got.Stages) != 0 {
		t.Fatalf("nil snapshot stages = %d, want 0", len(got.Stages))
	}
}
