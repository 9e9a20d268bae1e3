package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

type fixedPredictor struct {
	prob float64
}

func (p *fixedPredictor) Predict(_ *domain.FeatureVector) (float64, error) {
	return p.prob, nil
}

type failingPredictor struct{}

func (p *failingPredictor) Predict(_ *domain.FeatureVector) (float64, error) {
	return 0, fmt.Errorf("model backend unavailable")
}

type slowPredictor struct {
	delay time.Duration
	prob  float64
}

func (p *slowPredictor) Predict(_ *domain.FeatureVector) (float64, error) {
	time.Sleep(p.delay)
	return p.prob, nil
}

func newRegistry(t *testing.T, preds map[string]domain.Predictor, weights map[string]float64) *registry.Registry {
	t.Helper()
	r := registry.New()
	for id, p := range preds {
		err := r.Register(domain.ModelMetadata{
			ID:     id,
			Type:   domain.ModelRandomForest,
			Weight: weights[id],
			Active: true,
		}, p)
		if err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return r
}

func testConfig() domain.EnsembleConfig {
	return domain.EnsembleConfig{
		PredictorTimeout: 50 * time.Millisecond,
		MaxConcurrent:    8,
	}
}

func TestPredictNoActiveModels(t *testing.T) {
	r := registry.New()
	o := New(r, testConfig())

	_, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if !errors.Is(err, ErrNoActiveModels) {
		t.Errorf("expected ErrNoActiveModels, got %v", err)
	}
}

func TestPredictAgreementApprove(t *testing.T) {
	// Three agreeing models with equal weights: probability stays at
	// 0.05 and confidence is essentially perfect.
	r := newRegistry(t,
		map[string]domain.Predictor{
			"a": &fixedPredictor{prob: 0.05},
			"b": &fixedPredictor{prob: 0.05},
			"c": &fixedPredictor{prob: 0.05},
		},
		map[string]float64{"a": 1, "b": 1, "c": 1},
	)
	o := New(r, testConfig())

	out, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if math.Abs(out.Probability-0.05) > 1e-9 {
		t.Errorf("expected probability 0.05, got %f", out.Probability)
	}
	if math.Abs(out.Confidence-1.0) > 1e-9 {
		t.Errorf("expected confidence 1.0, got %f", out.Confidence)
	}
	if len(out.Predictions) != 3 {
		t.Errorf("expected 3 predictions in breakdown, got %d", len(out.Predictions))
	}
}

func TestPredictWeightedCombination(t *testing.T) {
	r := newRegistry(t,
		map[string]domain.Predictor{
			"a": &fixedPredictor{prob: 0.2},
			"b": &fixedPredictor{prob: 0.8},
		},
		map[string]float64{"a": 3, "b": 1},
	)
	o := New(r, testConfig())

	out, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	// 0.2*(3/4) + 0.8*(1/4) = 0.35
	if math.Abs(out.Probability-0.35) > 1e-9 {
		t.Errorf("expected 0.35, got %f", out.Probability)
	}
}

func TestFailedModelExcludedAndRenormalized(t *testing.T) {
	r := newRegistry(t,
		map[string]domain.Predictor{
			"ok1":  &fixedPredictor{prob: 0.4},
			"ok2":  &fixedPredictor{prob: 0.4},
			"dead": &failingPredictor{},
		},
		map[string]float64{"ok1": 1, "ok2": 1, "dead": 2},
	)
	o := New(r, testConfig())

	out, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if math.Abs(out.Probability-0.4) > 1e-9 {
		t.Errorf("expected renormalized probability 0.4, got %f", out.Probability)
	}

	excluded := 0
	for _, p := range out.Predictions {
		if p.Excluded {
			excluded++
			if p.ModelID != "dead" {
				t.Errorf("wrong model excluded: %s", p.ModelID)
			}
			if p.Error == "" {
				t.Error("excluded prediction should carry an error")
			}
		}
	}
	if excluded != 1 {
		t.Errorf("expected 1 excluded model, got %d", excluded)
	}

	// Participation penalty: 2 of 3 survived with full agreement.
	want := 2.0 / 3.0
	if math.Abs(out.Confidence-want) > 1e-9 {
		t.Errorf("expected confidence %f, got %f", want, out.Confidence)
	}
}

func TestTimeoutExcludedAndRenormalized(t *testing.T) {
	cfg := testConfig()
	cfg.PredictorTimeout = 20 * time.Millisecond

	r := newRegistry(t,
		map[string]domain.Predictor{
			"fast1": &fixedPredictor{prob: 0.3},
			"fast2": &fixedPredictor{prob: 0.3},
			"slow":  &slowPredictor{delay: 200 * time.Millisecond, prob: 0.9},
		},
		map[string]float64{"fast1": 1, "fast2": 1, "slow": 1},
	)
	o := New(r, cfg)

	out, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	// The slow model's 0.9 must not leak into the combination.
	if math.Abs(out.Probability-0.3) > 1e-9 {
		t.Errorf("expected 0.3 from surviving models, got %f", out.Probability)
	}
	if out.Confidence >= 1.0 {
		t.Errorf("confidence should be lowered by the lost model, got %f", out.Confidence)
	}

	surviving := 0
	for _, p := range out.Predictions {
		if !p.Excluded {
			surviving++
		}
	}
	if surviving != 2 {
		t.Errorf("expected 2 surviving models, got %d", surviving)
	}
}

func TestAllModelsFailing(t *testing.T) {
	r := newRegistry(t,
		map[string]domain.Predictor{
			"dead1": &failingPredictor{},
			"dead2": &failingPredictor{},
		},
		map[string]float64{"dead1": 1, "dead2": 1},
	)
	o := New(r, testConfig())

	_, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if !errors.Is(err, ErrNoViableModels) {
		t.Errorf("expected ErrNoViableModels, got %v", err)
	}
}

func TestDisagreementLowersConfidence(t *testing.T) {
	r := newRegistry(t,
		map[string]domain.Predictor{
			"low":  &fixedPredictor{prob: 0.0},
			"high": &fixedPredictor{prob: 1.0},
		},
		map[string]float64{"low": 1, "high": 1},
	)
	o := New(r, testConfig())

	out, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	// Maximal disagreement: variance 0.25, agreement 0.
	if out.Confidence != 0 {
		t.Errorf("expected confidence 0 for maximal disagreement, got %f", out.Confidence)
	}
}

func TestIdenticalWeightingAcrossCalls(t *testing.T) {
	r := newRegistry(t,
		map[string]domain.Predictor{
			"a": &fixedPredictor{prob: 0.3},
			"b": &fixedPredictor{prob: 0.7},
		},
		map[string]float64{"a": 2, "b": 1},
	)
	o := New(r, testConfig())

	out1, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	out2, err := o.Predict(context.Background(), &domain.FeatureVector{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if out1.RegistryVersion != out2.RegistryVersion {
		t.Error("registry version changed between calls on unchanged registry")
	}
	if out1.Probability != out2.Probability {
		t.Errorf("identical inputs against unchanged registry produced %f then %f",
			out1.Probability, out2.Probability)
	}
}

func TestPerformanceCountersRecorded(t *testing.T) {
	r := newRegistry(t,
		map[string]domain.Predictor{
			"a":    &fixedPredictor{prob: 0.6},
			"dead": &failingPredictor{},
		},
		map[string]float64{"a": 1, "dead": 1},
	)
	o := New(r, testConfig())

	if _, err := o.Predict(context.Background(), &domain.FeatureVector{}); err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	a, _ := r.Get("a")
	if a.Performance.Predictions != 1 || a.Performance.AvgProbability != 0.6 {
		t.Errorf("unexpected counters for a: %+v", a.Performance)
	}
	dead, _ := r.Get("dead")
	if dead.Performance.Failures != 1 {
		t.Errorf("expected 1 failure for dead, got %d", dead.Performance.Failures)
	}
}
