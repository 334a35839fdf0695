// Package pipeline runs one fetch, extract, reconcile, and notify cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/metrics"
)

// Fingerprint modes.
const (
	ModeRecord = "record"
	ModeText   = "text"
)

// Config holds the per-deployment settings of a run.
type Config struct {
	TargetURL string
	// Mode selects per-record (ModeRecord) or whole-text (ModeText) fingerprints.
	Mode string
	// ExtractorName labels extraction metrics, e.g. "parser" or "ai".
	ExtractorName string
	// Topic receives newly seen records. Empty disables publishing.
	Topic string
}

// Reconciler resolves records against the fingerprint cache.
type Reconciler interface {
	Records(ctx context.Context, records []bulletin.Record) ([]bulletin.CachedRecord, error)
	Text(ctx context.Context, raw string, extractor bulletin.Extractor) ([]bulletin.CachedRecord, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Source     bulletin.Source
	Extractor  bulletin.Extractor
	Reconciler Reconciler
	Publisher  bulletin.Publisher
	Logger     *zap.Logger
	// ExtractorErr explains a missing Extractor, e.g. an absent API key.
	ExtractorErr error
}

// Pipeline wires the bulletin subsystems together.
type Pipeline struct {
	cfg          Config
	source       bulletin.Source
	extractor    bulletin.Extractor
	extractorErr error
	reconciler   Reconciler
	publisher    bulletin.Publisher
	logger       *zap.Logger
}

// New validates deps and returns a Pipeline. Missing target URL or extractor
// are reported per run rather than here.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Reconciler == nil {
		return nil, errors.New("pipeline: source and reconciler are required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeRecord
	case ModeRecord, ModeText:
	default:
		return nil, fmt.Errorf("pipeline: unknown fingerprint mode %q", cfg.Mode)
	}
	if cfg.ExtractorName == "" {
		cfg.ExtractorName = "parser"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var extractor bulletin.Extractor
	if deps.Extractor != nil {
		extractor = observedExtractor{name: cfg.ExtractorName, inner: deps.Extractor}
	}
	return &Pipeline{
		cfg:          cfg,
		source:       deps.Source,
		extractor:    extractor,
		extractorErr: deps.ExtractorErr,
		reconciler:   deps.Reconciler,
		publisher:    deps.Publisher,
		logger:       logger.Named("pipeline"),
	}, nil
}

// Run performs one cycle against the configured target URL.
func (p *Pipeline) Run(ctx context.Context) (bulletin.Result, error) {
	start := time.Now()
	result, err := p.run(ctx)
	if err != nil {
		metrics.ObserveRun("error")
		p.logger.Error("run failed",
			zap.String("target_url", p.cfg.TargetURL),
			zap.String("kind", bulletin.Kind(err)),
			zap.Error(err),
		)
		return bulletin.Result{}, err
	}

	fresh := 0
	for _, rec := range result.Data {
		if rec.IsNew {
			fresh++
		}
	}
	metrics.ObserveRun("success")
	metrics.ObserveRecords(fresh, len(result.Data)-fresh)
	p.logger.Info("run completed",
		zap.String("target_url", p.cfg.TargetURL),
		zap.String("mode", p.cfg.Mode),
		zap.Int("records", len(result.Data)),
		zap.Int("new", fresh),
		zap.Duration("duration", time.Since(start)),
	)

	p.publish(ctx, result.Data)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context) (bulletin.Result, error) {
	if strings.TrimSpace(p.cfg.TargetURL) == "" {
		return bulletin.Result{}, fmt.Errorf("%w: source.target_url is not set", bulletin.ErrConfiguration)
	}
	if p.extractor == nil {
		if p.extractorErr != nil {
			return bulletin.Result{}, p.extractorErr
		}
		return bulletin.Result{}, fmt.Errorf("%w: no extractor configured", bulletin.ErrConfiguration)
	}

	text, err := p.source.Fetch(ctx, p.cfg.TargetURL)
	if err != nil {
		return bulletin.Result{}, err
	}

	var data []bulletin.CachedRecord
	switch {
	case strings.TrimSpace(text) == "":
		data = []bulletin.CachedRecord{}
	case p.cfg.Mode == ModeText:
		data, err = p.reconciler.Text(ctx, text, p.extractor)
	default:
		var records []bulletin.Record
		records, err = p.extractor.Extract(ctx, text)
		if err == nil {
			data, err = p.reconciler.Records(ctx, records)
		}
	}
	if err != nil {
		return bulletin.Result{}, err
	}
	if data == nil {
		data = []bulletin.CachedRecord{}
	}
	return bulletin.Result{TargetURL: p.cfg.TargetURL, Data: data}, nil
}

// publish sends newly seen records. Failures are logged and never fail the run.
func (p *Pipeline) publish(ctx context.Context, records []bulletin.CachedRecord) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	for _, rec := range records {
		if !rec.IsNew {
			continue
		}
		id, err := p.publisher.Publish(ctx, p.cfg.Topic, rec)
		if err != nil {
			p.logger.Warn("publish failed", zap.String("hash", rec.Hash), zap.Error(err))
			continue
		}
		p.logger.Debug("published record", zap.String("hash", rec.Hash), zap.String("message_id", id))
	}
}

// observedExtractor records extraction outcomes.
type observedExtractor struct {
	name  string
	inner bulletin.Extractor
}

func (o observedExtractor) Extract(ctx context.Context, text string) ([]bulletin.Record, error) {
	records, err := o.inner.Extract(ctx, text)
	if err != nil {
		metrics.ObserveExtraction(o.name, "error")
		return nil, err
	}
	metrics.ObserveExtraction(o.name, "success")
	return records, nil
}
