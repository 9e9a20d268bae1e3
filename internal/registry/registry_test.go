package registry

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type stubPredictor struct {
	prob float64
}

func (s *stubPredictor) Predict(_ *domain.FeatureVector) (float64, error) {
	return s.prob, nil
}

func meta(id string, weight float64, active bool) domain.ModelMetadata {
	return domain.ModelMetadata{
		ID:     id,
		Type:   domain.ModelRandomForest,
		Weight: weight,
		Active: active,
	}
}

func TestRegisterAndList(t *testing.T) {
	r := New()

	if err := r.Register(meta("rf_v1", 0.4, true), &stubPredictor{prob: 0.1}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(meta("gb_v1", 0.6, false), &stubPredictor{prob: 0.2}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if got := len(r.List()); got != 2 {
		t.Errorf("expected 2 models, got %d", got)
	}
	if got := len(r.ListActive()); got != 1 {
		t.Errorf("expected 1 active model, got %d", got)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	_ = r.Register(meta("rf_v1", 1.0, true), &stubPredictor{})

	err := r.Register(meta("rf_v1", 1.0, true), &stubPredictor{})
	if !errors.Is(err, ErrDuplicateModel) {
		t.Errorf("expected ErrDuplicateModel, got %v", err)
	}
}

func TestRegisterNegativeWeight(t *testing.T) {
	r := New()
	err := r.Register(meta("rf_v1", -0.5, true), &stubPredictor{})
	if !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("expected ErrInvalidWeight, got %v", err)
	}
}

func TestRegisterInvalidType(t *testing.T) {
	r := New()
	m := meta("x", 1.0, true)
	m.Type = "decision_stump"
	if err := r.Register(m, &stubPredictor{}); !errors.Is(err, ErrInvalidModelType) {
		t.Errorf("expected ErrInvalidModelType, got %v", err)
	}
}

func TestUpdateWeight(t *testing.T) {
	r := New()
	_ = r.Register(meta("rf_v1", 1.0, true), &stubPredictor{})

	if err := r.UpdateWeight("rf_v1", 2.5); err != nil {
		t.Fatalf("update weight failed: %v", err)
	}
	m, _ := r.Get("rf_v1")
	if m.Weight != 2.5 {
		t.Errorf("expected weight 2.5, got %f", m.Weight)
	}

	if err := r.UpdateWeight("rf_v1", -1); !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("expected ErrInvalidWeight, got %v", err)
	}
	if err := r.UpdateWeight("nope", 1); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestDeactivateLastActiveAllowed(t *testing.T) {
	r := New()
	_ = r.Register(meta("rf_v1", 1.0, true), &stubPredictor{})

	if err := r.Deactivate("rf_v1"); err != nil {
		t.Fatalf("deactivating last active model should be allowed: %v", err)
	}
	if got := len(r.ListActive()); got != 0 {
		t.Errorf("expected 0 active models, got %d", got)
	}
}

func TestVersionBumpsOnMutation(t *testing.T) {
	r := New()
	v0 := r.Version()

	_ = r.Register(meta("rf_v1", 1.0, true), &stubPredictor{})
	v1 := r.Version()
	if v1 == v0 {
		t.Error("register should bump version")
	}

	_ = r.UpdateWeight("rf_v1", 0.5)
	v2 := r.Version()
	if v2 == v1 {
		t.Error("weight update should bump version")
	}

	// Deactivating an already-inactive model is a no-op.
	_ = r.Deactivate("rf_v1")
	v3 := r.Version()
	_ = r.Deactivate("rf_v1")
	if r.Version() != v3 {
		t.Error("no-op state change should not bump version")
	}
}

func TestSnapshotConsistency(t *testing.T) {
	r := New()
	_ = r.Register(meta("rf_v1", 0.4, true), &stubPredictor{prob: 0.1})
	_ = r.Register(meta("gb_v1", 0.6, true), &stubPredictor{prob: 0.2})

	s1 := r.Snapshot()
	s2 := r.Snapshot()

	if s1.Version != s2.Version {
		t.Fatalf("snapshots of unchanged registry differ: %d vs %d", s1.Version, s2.Version)
	}
	if len(s1.Models) != len(s2.Models) {
		t.Fatalf("snapshot model counts differ")
	}
	for i := range s1.Models {
		if s1.Models[i].Weight != s2.Models[i].Weight {
			t.Errorf("weight drift between identical snapshots: %s", s1.Models[i].ID)
		}
	}

	// Snapshot weights are copies: later mutation must not leak in.
	_ = r.UpdateWeight("rf_v1", 9.0)
	if s1.Models[0].Weight == 9.0 {
		t.Error("snapshot observed mutation made after capture")
	}
}

func TestPerformanceCounters(t *testing.T) {
	r := New()
	_ = r.Register(meta("rf_v1", 1.0, true), &stubPredictor{})

	for _, p := range []float64{0.2, 0.4, 0.6} {
		r.RecordPrediction("rf_v1", p)
	}
	r.RecordFailure("rf_v1")

	m, _ := r.Get("rf_v1")
	if m.Performance.Predictions != 3 {
		t.Errorf("expected 3 predictions, got %d", m.Performance.Predictions)
	}
	if m.Performance.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", m.Performance.Failures)
	}
	if math.Abs(m.Performance.AvgProbability-0.4) > 1e-9 {
		t.Errorf("expected avg 0.4, got %f", m.Performance.AvgProbability)
	}
	if m.Performance.MinProbability != 0.2 || m.Performance.MaxProbability != 0.6 {
		t.Errorf("unexpected min/max: %f/%f", m.Performance.MinProbability, m.Performance.MaxProbability)
	}
}

func TestConcurrentReadsDuringMutation(t *testing.T) {
	r := New()
	_ = r.Register(meta("rf_v1", 0.5, true), &stubPredictor{})
	_ = r.Register(meta("gb_v1", 0.5, true), &stubPredictor{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := r.Snapshot()
				for _, m := range snap.Models {
					if m.Weight < 0 {
						t.Error("observed negative weight")
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		_ = r.UpdateWeight("rf_v1", float64(i%10))
	}
	wg.Wait()
}
