// Package reconcile resolves extracted records against the fingerprint cache.
//
// Two modes are supported. Records fingerprints each record independently and
// resolves them concurrently. Text fingerprints the raw page text and caches
// the whole extracted sequence under one key, skipping extraction on a hit.
// Both modes are all-or-nothing: any hashing or store failure fails the call.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/metrics"
)

// Options tunes a Reconciler.
type Options struct {
	// MaxConcurrency bounds in-flight record lookups. Zero means unbounded.
	MaxConcurrency int
	Logger         *zap.Logger
}

// Reconciler merges cache state with freshly extracted records.
type Reconciler struct {
	store          bulletin.Store
	hasher         bulletin.Hasher
	clock          bulletin.Clock
	maxConcurrency int
	logger         *zap.Logger
}

// New builds a Reconciler.
func New(store bulletin.Store, hasher bulletin.Hasher, clock bulletin.Clock, opts Options) (*Reconciler, error) {
	if store == nil || hasher == nil || clock == nil {
		return nil, errors.New("reconcile: store, hasher, and clock are required")
	}
	if opts.MaxConcurrency < 0 {
		return nil, fmt.Errorf("reconcile: max concurrency must be >= 0, got %d", opts.MaxConcurrency)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:          store,
		hasher:         hasher,
		clock:          clock,
		maxConcurrency: opts.MaxConcurrency,
		logger:         logger.Named("reconcile"),
	}, nil
}

// Records resolves each record against the cache concurrently and returns the
// results in input order. Every launched lookup runs to completion; if any of
// them fails the whole batch fails and no results are returned.
func (r *Reconciler) Records(ctx context.Context, records []bulletin.Record) ([]bulletin.CachedRecord, error) {
	results := make([]bulletin.CachedRecord, len(records))
	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for i, rec := range records {
		g.Go(func() error {
			out, err := r.resolve(ctx, rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("batch failed", zap.Int("records", len(records)), zap.Error(err))
		return nil, err
	}
	return results, nil
}

func (r *Reconciler) resolve(ctx context.Context, rec bulletin.Record) (bulletin.CachedRecord, error) {
	key, err := RecordFingerprint(r.hasher, rec)
	if err != nil {
		return bulletin.CachedRecord{}, err
	}

	stored, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return bulletin.CachedRecord{}, fmt.Errorf("%w: get %s: %w", bulletin.ErrCache, key, err)
	}
	metrics.ObserveCacheLookup(ok)
	if ok {
		var cached bulletin.CachedRecord
		if err := json.Unmarshal(stored, &cached); err != nil {
			return bulletin.CachedRecord{}, fmt.Errorf("%w: decode %s: %w", bulletin.ErrCache, key, err)
		}
		return cached.Seen(), nil
	}

	fresh := rec.Stamp(key, r.clock.Now(), true)
	payload, err := json.Marshal(fresh.Seen())
	if err != nil {
		return bulletin.CachedRecord{}, fmt.Errorf("%w: encode %s: %w", bulletin.ErrCache, key, err)
	}
	if err := r.store.Put(ctx, key, payload); err != nil {
		return bulletin.CachedRecord{}, fmt.Errorf("%w: put %s: %w", bulletin.ErrCache, key, err)
	}
	return fresh, nil
}

// Text resolves raw page text as a single cache entry. On a miss the
// extractor runs once and its records are stored together; extractor errors
// are returned unchanged and nothing is written. Blank text yields no records
// without touching the cache or the extractor.
func (r *Reconciler) Text(ctx context.Context, raw string, extractor bulletin.Extractor) ([]bulletin.CachedRecord, error) {
	if strings.TrimSpace(raw) == "" {
		return []bulletin.CachedRecord{}, nil
	}
	if extractor == nil {
		return nil, errors.New("reconcile: extractor is required")
	}

	key, err := TextFingerprint(r.hasher, raw)
	if err != nil {
		return nil, err
	}

	stored, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", bulletin.ErrCache, key, err)
	}
	metrics.ObserveCacheLookup(ok)
	if ok {
		var cached []bulletin.CachedRecord
		if err := json.Unmarshal(stored, &cached); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", bulletin.ErrCache, key, err)
		}
		out := make([]bulletin.CachedRecord, len(cached))
		for i, c := range cached {
			out[i] = c.Seen()
		}
		return out, nil
	}

	records, err := extractor.Extract(ctx, raw)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	fresh := make([]bulletin.CachedRecord, len(records))
	persisted := make([]bulletin.CachedRecord, len(records))
	for i, rec := range records {
		fresh[i] = rec.Stamp(key, now, true)
		persisted[i] = fresh[i].Seen()
	}
	payload, err := json.Marshal(persisted)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", bulletin.ErrCache, key, err)
	}
	if err := r.store.Put(ctx, key, payload); err != nil {
		return nil, fmt.Errorf("%w: put %s: %w", bulletin.ErrCache, key, err)
	}
	r.logger.Debug("cached text extraction", zap.String("hash", key), zap.Int("records", len(fresh)))
	return fresh, nil
}
