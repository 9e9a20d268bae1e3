package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

type fixedPredictor struct{ prob float64 }

func (p fixedPredictor) Predict(f *domain.FeatureVector) (float64, error) {
	return p.prob, nil
}

func testPipeline(t *testing.T, eventBus domain.EventBus, prob float64) *pipeline.Pipeline {
	t.Helper()

	reg := registry.New()
	if err := reg.Register(domain.ModelMetadata{
		ID:     "rf_v1",
		Type:   domain.ModelRandomForest,
		Weight: 1,
		Active: true,
	}, fixedPredictor{prob: prob}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	scorer, err := scoring.New(domain.ScoringConfig{})
	if err != nil {
		t.Fatalf("scorer failed: %v", err)
	}
	engine, err := decision.New(decision.DefaultBands())
	if err != nil {
		t.Fatalf("decision engine failed: %v", err)
	}

	profileCache := cache.NewLRUCache(100)
	t.Cleanup(func() { profileCache.Close() })

	return pipeline.New(
		features.NewExtractor(domain.FeatureConfig{}),
		ensemble.New(reg, domain.EnsembleConfig{}),
		scorer,
		engine,
		profileCache,
		nil,
		eventBus,
		nil,
	)
}

func TestWorkerScoresIngestedTransactions(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	w := NewWorker(eventBus, testPipeline(t, eventBus, 0.9))
	if err := w.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()
	results := make(chan *domain.Message, 1)
	_, _ = eventBus.Subscribe(ctx, domain.TopicResult, func(ctx context.Context, msg *domain.Message) error {
		results <- msg
		return nil
	})

	tx := domain.TransactionRecord{
		ID:             "tx-async-1",
		UserID:         "user-1",
		Amount:         250,
		Currency:       "USD",
		MerchantID:     "merchant-1",
		AccountBalance: 4000,
		Timestamp:      time.Now().UTC(),
	}
	payload, _ := json.Marshal(tx)
	if err := eventBus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-results:
		var result domain.FraudDetectionResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			t.Fatalf("bad result payload: %v", err)
		}
		if result.TransactionID != "tx-async-1" {
			t.Errorf("transaction id = %s, want tx-async-1", result.TransactionID)
		}
		if result.RiskScore != 90 {
			t.Errorf("risk score = %f, want 90", result.RiskScore)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not publish a result")
	}
}

func TestWorkerSurvivesMalformedPayload(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	w := NewWorker(eventBus, testPipeline(t, eventBus, 0.2))
	if err := w.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()
	results := make(chan *domain.Message, 1)
	_, _ = eventBus.Subscribe(ctx, domain.TopicResult, func(ctx context.Context, msg *domain.Message) error {
		results <- msg
		return nil
	})

	_ = eventBus.Publish(ctx, domain.TopicTransactionIngested, []byte("not json"))

	tx := domain.TransactionRecord{
		ID:             "tx-after-garbage",
		UserID:         "user-1",
		Amount:         10,
		Currency:       "USD",
		AccountBalance: 1000,
		Timestamp:      time.Now().UTC(),
	}
	payload, _ := json.Marshal(tx)
	_ = eventBus.Publish(ctx, domain.TopicTransactionIngested, payload)

	select {
	case msg := <-results:
		var result domain.FraudDetectionResult
		_ = json.Unmarshal(msg.Payload, &result)
		if result.TransactionID != "tx-after-garbage" {
			t.Errorf("transaction id = %s, want tx-after-garbage", result.TransactionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped processing after malformed payload")
	}
}

func TestStopHaltsProcessing(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	w := NewWorker(eventBus, testPipeline(t, eventBus, 0.2))
	if err := w.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	ctx := context.Background()
	results := make(chan *domain.Message, 1)
	_, _ = eventBus.Subscribe(ctx, domain.TopicResult, func(ctx context.Context, msg *domain.Message) error {
		results <- msg
		return nil
	})

	tx := domain.TransactionRecord{ID: "tx-late", UserID: "user-1", Amount: 10, Currency: "USD", AccountBalance: 100, Timestamp: time.Now().UTC()}
	payload, _ := json.Marshal(tx)
	_ = eventBus.Publish(ctx, domain.TopicTransactionIngested, payload)

	select {
	case <-results:
		t.Fatal("stopped worker still processing")
	case <-time.After(100 * time.Millisecond):
	}
}
