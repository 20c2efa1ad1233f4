// Package snapshot maintains the read-mostly index of normalized interactions.
//
// A Builder loads every stored evidence record, aggregates them with the
// evidence normalizer and swaps the resulting index in atomically. Readers
// always see a complete snapshot; a failed rebuild keeps the previous one.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/metrics"
)

const defaultFailureThreshold = 3

// Source yields every stored evidence record in insertion order.
type Source interface {
	All(ctx context.Context) ([]domain.InteractionEvidenceRecord, error)
}

// Publisher distributes a freshly built snapshot, e.g. to a shared cache.
type Publisher interface {
	Publish(ctx context.Context, interactions []domain.NormalizedInteraction, ttl time.Duration) error
}

// Snapshot is one immutable build of the interaction index.
type Snapshot struct {
	Index       *domain.NormalizationResult
	BuiltAt     time.Time
	RecordCount int
	Skipped     []domain.Diagnostic
}

// Builder rebuilds and serves interaction snapshots.
type Builder struct {
	source     Source
	normalizer domain.EvidenceNormalizer
	breaker    *gobreaker.CircuitBreaker
	publisher  Publisher
	publishTTL time.Duration
	metrics    *metrics.EngineMetrics
	logger     *logrus.Logger

	mu      sync.Mutex // serializes rebuilds
	current atomic.Pointer[Snapshot]
}

// NewBuilder creates a builder reading from source through a circuit breaker.
func NewBuilder(source Source, normalizer domain.EvidenceNormalizer, config domain.SnapshotConfig, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
	}

	threshold := config.BreakerFailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}

	cbSettings := gobreaker.Settings{
		Name:        "EvidenceStore",
		MaxRequests: config.BreakerMaxRequests,
		Interval:    config.BreakerInterval,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from,
				"to_state":        to,
			}).Warn("Circuit breaker state changed")
		},
	}

	return &Builder{
		source:     source,
		normalizer: normalizer,
		breaker:    gobreaker.NewCircuitBreaker(cbSettings),
		publishTTL: config.PublishTTL,
		logger:     logger,
	}
}

// SetPublisher attaches a publisher that receives every successful build.
func (b *Builder) SetPublisher(p Publisher) {
	b.publisher = p
}

// SetMetrics attaches rebuild metrics.
func (b *Builder) SetMetrics(m *metrics.EngineMetrics) {
	b.metrics = m
}

// Rebuild loads all evidence, aggregates it and swaps in the new snapshot.
func (b *Builder) Rebuild(ctx context.Context) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.source.All(ctx)
	})
	if err != nil {
		b.metrics.RecordSnapshotRebuild("failure", 0)
		b.logger.WithError(err).Warn("Snapshot rebuild failed, keeping previous snapshot")
		return nil, fmt.Errorf("failed to load evidence: %w", err)
	}

	records := result.([]domain.InteractionEvidenceRecord)
	index := b.normalizer.Aggregate(records)

	snap := &Snapshot{
		Index:       index,
		BuiltAt:     time.Now().UTC(),
		RecordCount: len(records),
		Skipped:     index.Skipped,
	}
	b.current.Store(snap)

	b.metrics.RecordSnapshotRebuild("success", len(index.Keys))
	b.metrics.RecordDiagnostics(domain.ComponentEvidenceNormalizer, len(index.Skipped))
	b.metrics.ObserveComponent(domain.ComponentEvidenceNormalizer, time.Since(start))

	b.logger.WithFields(logrus.Fields{
		"records":      len(records),
		"interactions": len(index.Keys),
		"skipped":      len(index.Skipped),
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("Interaction snapshot rebuilt")

	if b.publisher != nil {
		if err := b.publisher.Publish(ctx, index.List(), b.publishTTL); err != nil {
			b.logger.WithError(err).Warn("Failed to publish interaction snapshot")
		}
	}

	return snap, nil
}

// Current returns the active snapshot, nil before the first build.
func (b *Builder) Current() *Snapshot {
	return b.current.Load()
}

// BuiltAt returns when the active snapshot was built.
func (b *Builder) BuiltAt() (time.Time, bool) {
	snap := b.current.Load()
	if snap == nil {
		return time.Time{}, false
	}
	return snap.BuiltAt, true
}

// Lookup finds the normalized interaction for a drug pair. An exact canonical
// key match is tried first, then a scan using name containment and rxcui
// equality so that "warfarin sodium" finds the "warfarin" entry.
func (b *Builder) Lookup(drugA, drugB domain.DrugIdentity) (*domain.NormalizedInteraction, error) {
	snap := b.current.Load()
	if snap == nil {
		return nil, domain.ErrSnapshotNotReady
	}
	if drugA.IsEmpty() || drugB.IsEmpty() {
		return nil, domain.ErrNotFound
	}

	if ni, ok := snap.Index.Lookup(drugA, drugB); ok {
		return ni, nil
	}

	for _, key := range snap.Index.Keys {
		ni := snap.Index.Interactions[key]
		if (ni.DrugA.SameDrug(drugA) && ni.DrugB.SameDrug(drugB)) || (ni.DrugA.SameDrug(drugB) && ni.DrugB.SameDrug(drugA)) {
			return ni, nil
		}
	}
	return nil, domain.ErrNotFound
}
