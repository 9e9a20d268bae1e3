// Package registry manages the set of registered predictors, their
// weights, and active/inactive state.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrDuplicateModel is returned when registering an id that exists.
	ErrDuplicateModel = errors.New("model already registered")

	// ErrInvalidWeight is returned for negative weights.
	ErrInvalidWeight = errors.New("model weight must not be negative")

	// ErrModelNotFound is returned for operations on unknown ids.
	ErrModelNotFound = errors.New("model not found")

	// ErrInvalidModelType is returned for types outside the closed set.
	ErrInvalidModelType = errors.New("invalid model type")
)

// Registry holds registered models. Mutated rarely, read on every
// scoring call; readers take an immutable snapshot and never block on
// in-progress mutations beyond the brief critical section.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]*entry
	order   []string // registration order, for stable listings
	version uint64
}

type entry struct {
	meta      domain.ModelMetadata
	predictor domain.Predictor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		models: make(map[string]*entry),
	}
}

// Register adds a model. The metadata's performance counters are reset;
// weight and type are validated here so scoring never sees bad config.
func (r *Registry) Register(meta domain.ModelMetadata, predictor domain.Predictor) error {
	if meta.ID == "" {
		return errors.New("model id is required")
	}
	if !meta.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidModelType, meta.Type)
	}
	if meta.Weight < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidWeight, meta.Weight)
	}
	if predictor == nil {
		return fmt.Errorf("predictor is required for model %s", meta.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[meta.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, meta.ID)
	}

	meta.Performance = domain.PerformanceStats{}
	if meta.RegisteredAt.IsZero() {
		meta.RegisteredAt = time.Now().UTC()
	}

	r.models[meta.ID] = &entry{meta: meta, predictor: predictor}
	r.order = append(r.order, meta.ID)
	r.version++
	return nil
}

// Deregister removes a model entirely.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[id]; !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	delete(r.models, id)
	for i, mid := range r.order {
		if mid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.version++
	return nil
}

// Activate marks a model as participating in ensemble calls.
func (r *Registry) Activate(id string) error {
	return r.setActive(id, true)
}

// Deactivate removes a model from ensemble calls. Deactivating the last
// active model is allowed; the orchestrator enforces the at-least-one
// invariant at call time.
func (r *Registry) Deactivate(id string) error {
	return r.setActive(id, false)
}

func (r *Registry) setActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.models[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if e.meta.Active != active {
		e.meta.Active = active
		r.version++
	}
	return nil
}

// UpdateWeight changes a model's ensemble weight.
func (r *Registry) UpdateWeight(id string, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidWeight, weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.models[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	e.meta.Weight = weight
	r.version++
	return nil
}

// Get returns a copy of a model's metadata.
func (r *Registry) Get(id string) (domain.ModelMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.models[id]
	if !ok {
		return domain.ModelMetadata{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return e.meta, nil
}

// List returns metadata copies for all models in registration order.
func (r *Registry) List() []domain.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ModelMetadata, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id].meta)
	}
	return out
}

// ListActive returns metadata copies for active models only.
func (r *Registry) ListActive() []domain.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ModelMetadata
	for _, id := range r.order {
		if e := r.models[id]; e.meta.Active {
			out = append(out, e.meta)
		}
	}
	return out
}

// Version returns the current mutation counter. Every register,
// deregister, weight or state change bumps it, so callers can detect
// configuration drift between snapshots.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// SnapshotModel is one active model captured in a snapshot.
type SnapshotModel struct {
	ID        string
	Type      domain.ModelType
	Weight    float64
	Predictor domain.Predictor
}

// Snapshot is a consistent view of the active model set for a single
// ensemble call. It never observes half-applied registry mutations, and
// two snapshots at the same version carry identical weights.
type Snapshot struct {
	Version uint64
	Models  []SnapshotModel
}

// Snapshot captures the active models and weights at a single version.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{Version: r.version}
	for _, id := range r.order {
		e := r.models[id]
		if !e.meta.Active {
			continue
		}
		snap.Models = append(snap.Models, SnapshotModel{
			ID:        e.meta.ID,
			Type:      e.meta.Type,
			Weight:    e.meta.Weight,
			Predictor: e.predictor,
		})
	}
	return snap
}

// RecordPrediction folds a successful prediction into the model's
// rolling performance counters (online mean, min/max).
func (r *Registry) RecordPrediction(id string, probability float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.models[id]
	if !ok {
		return
	}

	p := &e.meta.Performance
	p.Predictions++
	if p.Predictions == 1 {
		p.MinProbability = probability
		p.MaxProbability = probability
	} else {
		if probability < p.MinProbability {
			p.MinProbability = probability
		}
		if probability > p.MaxProbability {
			p.MaxProbability = probability
		}
	}
	p.AvgProbability += (probability - p.AvgProbability) / float64(p.Predictions)
}

// RecordFailure counts an errored or timed-out invocation.
func (r *Registry) RecordFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.models[id]; ok {
		e.meta.Performance.Failures++
	}
}
