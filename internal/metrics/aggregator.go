// Package metrics maintains rolling windowed aggregates over the stream
// of fraud detection results. One shard per granularity, each with a
// fixed-capacity ring of time buckets; the oldest bucket is recycled as
// time advances, so memory stays bounded regardless of traffic.
package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// bucketsPerWindow slices each granularity window into this many time
// buckets. Finer slicing smooths eviction at the cost of memory.
const bucketsPerWindow = 60

// Aggregator consumes FraudDetectionResults and serves point-in-time
// snapshots per granularity. Updates are fire-and-forget: each shard has
// a bounded queue drained by a single goroutine, and a full queue drops
// the update instead of blocking the scoring caller.
type Aggregator struct {
	shards  map[domain.Granularity]*shard
	topN    int
	dropped atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds an aggregator covering all supported granularities and
// starts one consumer goroutine per shard.
func New(cfg domain.MetricsConfig) *Aggregator {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}

	a := &Aggregator{
		shards: make(map[domain.Granularity]*shard),
		topN:   topN,
	}
	for _, g := range domain.Granularities() {
		s := newShard(g, queueSize)
		a.shards[g] = s
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			s.run()
		}()
	}
	return a
}

// Record publishes a result to every granularity shard. Never blocks:
// a shard whose queue is full drops the update and the loss is counted.
func (a *Aggregator) Record(res *domain.FraudDetectionResult) {
	if res == nil {
		return
	}
	for _, s := range a.shards {
		select {
		case s.updates <- res:
		default:
			a.dropped.Add(1)
			slog.Warn("metrics update dropped, queue full",
				"granularity", s.granularity,
				"transaction_id", res.TransactionID,
			)
		}
	}
}

// Snapshot returns a deep copy of the current aggregate for the given
// granularity. Reads take a read lock only; the shard's consumer keeps
// running.
func (a *Aggregator) Snapshot(g domain.Granularity) (*domain.MetricSnapshot, bool) {
	s, ok := a.shards[g]
	if !ok {
		return nil, false
	}
	return s.snapshot(time.Now(), a.topN), true
}

// Dropped reports how many updates were discarded because a shard queue
// was full.
func (a *Aggregator) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops all shard consumers after draining pending updates.
// Record must not be called after Close; snapshot reads remain valid.
func (a *Aggregator) Close() {
	a.closeOnce.Do(func() {
		for _, s := range a.shards {
			close(s.updates)
		}
		a.wg.Wait()
	})
}

// shard owns the bucket ring for one granularity. Only the run loop
// mutates ring state, so writers never race each other; snapshot reads
// share the mutex with that single writer.
type shard struct {
	granularity domain.Granularity
	updates     chan *domain.FraudDetectionResult

	mu          sync.RWMutex
	ring        []bucket
	bucketWidth time.Duration
}

type bucket struct {
	// slot is the absolute bucket index (unix time / width). A ring
	// entry is live only while its slot falls inside the window; stale
	// entries are recycled in place on write and filtered on read.
	slot int64

	total   int64
	flagged int64
	blocked int64
	sumRisk float64

	recommendations map[domain.Recommendation]int64
	models          map[string]*modelAccum
	geographic      map[string]int64
	merchants       map[string]int64
	categories      map[string]int64
}

// modelAccum keeps a windowed online mean per model per bucket.
type modelAccum struct {
	count int64
	avg   float64
}

func newShard(g domain.Granularity, queueSize int) *shard {
	return &shard{
		granularity: g,
		updates:     make(chan *domain.FraudDetectionResult, queueSize),
		ring:        make([]bucket, bucketsPerWindow),
		bucketWidth: g.Window() / bucketsPerWindow,
	}
}

func (s *shard) run() {
	for res := range s.updates {
		s.apply(res, time.Now())
	}
}

func (s *shard) slotAt(t time.Time) int64 {
	return t.UnixNano() / int64(s.bucketWidth)
}

func (s *shard) apply(res *domain.FraudDetectionResult, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotAt(now)
	b := &s.ring[slot%bucketsPerWindow]
	if b.slot != slot {
		// The ring wrapped; this entry held an expired time slice.
		*b = bucket{
			slot:            slot,
			recommendations: make(map[domain.Recommendation]int64),
			models:          make(map[string]*modelAccum),
			geographic:      make(map[string]int64),
			merchants:       make(map[string]int64),
			categories:      make(map[string]int64),
		}
	}

	b.total++
	b.sumRisk += res.RiskScore
	if res.IsFlagged() {
		b.flagged++
		if res.Country != "" {
			b.geographic[res.Country]++
		}
	}
	if res.Recommendation == domain.RecommendBlock {
		b.blocked++
	}
	b.recommendations[res.Recommendation]++

	for _, p := range res.Predictions {
		if p.Excluded {
			continue
		}
		m := b.models[p.ModelID]
		if m == nil {
			m = &modelAccum{}
			b.models[p.ModelID] = m
		}
		m.count++
		m.avg += (p.Probability - m.avg) / float64(m.count)
	}

	if res.MerchantID != "" {
		b.merchants[res.MerchantID]++
	}
	if res.MerchantCategory != "" {
		b.categories[res.MerchantCategory]++
	}
}

// snapshot folds all live buckets into one deep-copied aggregate.
// Expired buckets are skipped by slot comparison rather than mutated,
// so the read path stays read-only.
func (s *shard) snapshot(now time.Time, topN int) *domain.MetricSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	oldest := s.slotAt(now) - bucketsPerWindow + 1

	snap := &domain.MetricSnapshot{
		Granularity:     s.granularity,
		Recommendations: make(map[domain.Recommendation]int64),
		ModelStats:      make(map[string]domain.ModelSnapshotStats),
		Geographic:      make(map[string]int64),
		Timestamp:       now.UTC(),
	}

	var sumRisk float64
	merchants := make(map[string]int64)
	categories := make(map[string]int64)
	modelTotals := make(map[string]*modelAccum)

	for i := range s.ring {
		b := &s.ring[i]
		if b.slot < oldest || b.total == 0 {
			continue
		}
		snap.TotalTransactions += b.total
		snap.FlaggedTransactions += b.flagged
		snap.BlockedTransactions += b.blocked
		sumRisk += b.sumRisk

		for rec, n := range b.recommendations {
			snap.Recommendations[rec] += n
		}
		for country, n := range b.geographic {
			snap.Geographic[country] += n
		}
		for id, n := range b.merchants {
			merchants[id] += n
		}
		for cat, n := range b.categories {
			categories[cat] += n
		}
		for id, m := range b.models {
			t := modelTotals[id]
			if t == nil {
				t = &modelAccum{}
				modelTotals[id] = t
			}
			// Merge two means weighted by their counts.
			merged := t.count + m.count
			t.avg = (t.avg*float64(t.count) + m.avg*float64(m.count)) / float64(merged)
			t.count = merged
		}
	}

	if snap.TotalTransactions > 0 {
		snap.FraudRate = float64(snap.FlaggedTransactions) / float64(snap.TotalTransactions)
		snap.AvgRiskScore = sumRisk / float64(snap.TotalTransactions)
	}
	for id, t := range modelTotals {
		snap.ModelStats[id] = domain.ModelSnapshotStats{
			Predictions:    t.count,
			AvgProbability: t.avg,
		}
	}
	snap.TopMerchants = topEntities(merchants, topN)
	snap.TopCategories = topEntities(categories, topN)

	return snap
}

// topEntities ranks counters descending, breaking ties by key so the
// ordering is stable across snapshots.
func topEntities(counts map[string]int64, n int) []domain.EntityCount {
	if len(counts) == 0 {
		return nil
	}
	out := make([]domain.EntityCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, domain.EntityCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
