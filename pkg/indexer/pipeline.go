// Package indexer reconciles the chunk store with the current state of
// every enabled document provider. It runs as a finite job: one pass
// over the providers, then exit.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/docfoundry/docfoundry/pkg/chunk"
	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/extract"
	"github.com/docfoundry/docfoundry/pkg/provider"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// Status classifies the outcome of a run for exit-code mapping.
type Status int

const (
	// StatusSuccess: at least one document processed, or every provider
	// had zero changes.
	StatusSuccess Status = iota

	// StatusNoOp: no enabled providers to run.
	StatusNoOp

	// StatusError: nothing processed and at least one failure.
	StatusError

	// StatusCancelled: the run stopped on operator signal.
	StatusCancelled
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoOp:
		return "no-op"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Totals summarizes a run.
type Totals struct {
	ProvidersProcessed int
	ProviderFailures   int
	DocumentsProcessed int
	DocumentsSkipped   int
	DocumentsFailed    int
	ChunksWritten      int
	DocumentsRemoved   int
	ChunksRemoved      int
	Elapsed            time.Duration
}

// Result is the outcome of one pipeline run.
type Result struct {
	Status Status
	Totals Totals

	// Failures aggregates every provider and document failure of the
	// run. Nil when nothing failed. Failures never abort a run; they are
	// reported here and reflected in Status.
	Failures error
}

// Store is the chunk store surface the pipeline writes through.
type Store interface {
	UpsertDocumentChunks(ctx context.Context, doc chunkstore.DocumentRef, chunks []chunkstore.ChunkInput) error
	UpdateFileTracking(ctx context.Context, doc chunkstore.DocumentRef) error
	IsIndexed(ctx context.Context, pair chunkstore.Pair, documentID, etag string) (bool, error)
	ReconcileOrphans(ctx context.Context, pair chunkstore.Pair, presentIDs []string) (chunkstore.ReconcileReport, error)
	DeleteProvider(ctx context.Context, pair chunkstore.Pair) error
}

// Registry records provider registration and sync completion in the
// provider registry table.
type Registry interface {
	Register(ctx context.Context, providerType, providerName string, metadata map[string]any) error
	StampLastSync(ctx context.Context, providerType, providerName string, at time.Time) error
}

// Embedder maps chunk texts to vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TextExtractor turns document bytes into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, filename string) (string, error)
}

// SettingsSource lists the providers enabled for this run.
type SettingsSource interface {
	ListEnabledProviders() []settings.EnabledProvider
}

// ProviderFactory builds a provider from its settings blob. Tests
// substitute fakes here.
type ProviderFactory func(providerType, providerName string, blob map[string]any, logger hclog.Logger) (provider.Provider, error)

// Config holds pipeline configuration.
type Config struct {
	// ForceFullReindex deletes each provider's data before indexing.
	ForceFullReindex bool

	// SkipOrphanCleanup disables orphan reconciliation. Cleanup is on by
	// default.
	SkipOrphanCleanup bool

	// MaxFiles truncates each provider's enumeration, for test runs.
	// Zero means no limit.
	MaxFiles int

	// ProviderFilter restricts the run to one provider: "type" or
	// "type/name". Empty means all enabled providers.
	ProviderFilter string
}

// Pipeline is the indexer run loop.
type Pipeline struct {
	settings  SettingsSource
	store     Store
	registry  Registry
	extractor TextExtractor
	chunker   *chunk.Chunker
	embedder  Embedder
	factory   ProviderFactory
	cfg       Config
	logger    hclog.Logger
}

// PipelineConfig wires the pipeline's collaborators.
type PipelineConfig struct {
	Settings  SettingsSource
	Store     Store
	Registry  Registry
	Extractor TextExtractor
	Chunker   *chunk.Chunker
	Embedder  Embedder
	Factory   ProviderFactory // default: provider.New
	Config    Config
	Logger    hclog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(pc PipelineConfig) (*Pipeline, error) {
	switch {
	case pc.Settings == nil:
		return nil, fmt.Errorf("settings source is required")
	case pc.Store == nil:
		return nil, fmt.Errorf("chunk store is required")
	case pc.Registry == nil:
		return nil, fmt.Errorf("provider registry is required")
	case pc.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case pc.Chunker == nil:
		return nil, fmt.Errorf("chunker is required")
	case pc.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	}
	if pc.Factory == nil {
		pc.Factory = provider.New
	}
	if pc.Logger == nil {
		pc.Logger = hclog.NewNullLogger()
	}

	return &Pipeline{
		settings:  pc.Settings,
		store:     pc.Store,
		registry:  pc.Registry,
		extractor: pc.Extractor,
		chunker:   pc.Chunker,
		embedder:  pc.Embedder,
		factory:   pc.Factory,
		cfg:       pc.Config,
		logger:    pc.Logger.Named("indexer"),
	}, nil
}

// Run executes one full pass over the enabled providers. Per-document
// and per-provider failures are logged and do not abort the run;
// cancellation does.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	totals := Totals{}
	var failures *multierror.Error

	finish := func(status Status) (Result, error) {
		totals.Elapsed = time.Since(started)
		p.logger.Info("indexer run finished",
			"status", status.String(),
			"providers_processed", totals.ProvidersProcessed,
			"documents_processed", totals.DocumentsProcessed,
			"documents_skipped", totals.DocumentsSkipped,
			"documents_failed", totals.DocumentsFailed,
			"chunks_written", totals.ChunksWritten,
			"elapsed_seconds", totals.Elapsed.Seconds(),
		)
		return Result{Status: status, Totals: totals, Failures: failures.ErrorOrNil()}, nil
	}

	enabled := p.filterProviders(p.settings.ListEnabledProviders())
	if len(enabled) == 0 {
		p.logger.Warn("no enabled providers, nothing to do")
		return finish(StatusNoOp)
	}

	providers := make([]provider.Provider, 0, len(enabled))
	for _, entry := range enabled {
		prov, err := p.factory(entry.ProviderType, entry.ProviderName, entry.Settings, p.logger)
		if err != nil {
			p.logger.Warn("skipping provider with invalid settings",
				"provider_type", entry.ProviderType,
				"provider_name", entry.ProviderName,
				"error", err,
			)
			failures = multierror.Append(failures,
				fmt.Errorf("provider %s/%s: %w", entry.ProviderType, entry.ProviderName, err))
			totals.ProviderFailures++
			continue
		}
		if err := p.registry.Register(ctx, prov.Type(), prov.Name(), prov.Describe()); err != nil {
			p.logger.Error("failed to register provider",
				"provider_type", prov.Type(),
				"provider_name", prov.Name(),
				"error", err,
			)
			failures = multierror.Append(failures,
				fmt.Errorf("provider %s/%s: registration: %w", prov.Type(), prov.Name(), err))
			totals.ProviderFailures++
			continue
		}
		providers = append(providers, prov)
	}

	for _, prov := range providers {
		if err := ctx.Err(); err != nil {
			return finish(StatusCancelled)
		}
		if err := p.runProvider(ctx, prov, &totals, &failures); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return finish(StatusCancelled)
			}
			p.logger.Error("provider run failed",
				"provider_type", prov.Type(),
				"provider_name", prov.Name(),
				"error", err,
			)
			failures = multierror.Append(failures,
				fmt.Errorf("provider %s/%s: %w", prov.Type(), prov.Name(), err))
			totals.ProviderFailures++
			continue
		}
		totals.ProvidersProcessed++
	}

	if totals.DocumentsProcessed > 0 {
		return finish(StatusSuccess)
	}
	if totals.DocumentsFailed == 0 && totals.ProviderFailures == 0 {
		// All providers enumerated cleanly with zero changes.
		return finish(StatusSuccess)
	}
	return finish(StatusError)
}

// runProvider reconciles one provider with the store. Document failures
// are appended to failures and counted; only cancellation and
// provider-level failures return an error.
func (p *Pipeline) runProvider(ctx context.Context, prov provider.Provider, totals *Totals, failures **multierror.Error) error {
	pair := chunkstore.Pair{ProviderType: prov.Type(), ProviderName: prov.Name()}
	log := p.logger.With("provider_type", pair.ProviderType, "provider_name", pair.ProviderName)

	if p.cfg.ForceFullReindex {
		log.Warn("force full reindex: deleting all provider data")
		if err := p.store.DeleteProvider(ctx, pair); err != nil {
			return fmt.Errorf("failed to delete provider data: %w", err)
		}
	}

	descriptors, err := prov.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumeration failed: %w", err)
	}
	if p.cfg.MaxFiles > 0 && len(descriptors) > p.cfg.MaxFiles {
		log.Info("truncating enumeration", "max_files", p.cfg.MaxFiles, "listed", len(descriptors))
		descriptors = descriptors[:p.cfg.MaxFiles]
	}

	if !p.cfg.SkipOrphanCleanup {
		present := make([]string, len(descriptors))
		for i, d := range descriptors {
			present[i] = d.DocumentID
		}
		report, err := p.store.ReconcileOrphans(ctx, pair, present)
		if err != nil {
			log.Error("orphan reconciliation failed", "error", err)
			*failures = multierror.Append(*failures, fmt.Errorf("orphan reconciliation: %w", err))
		} else {
			totals.DocumentsRemoved += report.DocumentsRemoved
			totals.ChunksRemoved += report.ChunksRemoved
		}
	}

	for _, desc := range descriptors {
		if err := ctx.Err(); err != nil {
			return err
		}

		written, err := p.processDocument(ctx, prov, pair, desc)
		switch {
		case err == nil && written < 0:
			totals.DocumentsSkipped++
		case err == nil:
			totals.DocumentsProcessed++
			totals.ChunksWritten += written
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			log.Error("document failed", "document_id", desc.DocumentID, "error", err)
			*failures = multierror.Append(*failures,
				fmt.Errorf("document %s: %w", desc.DocumentID, err))
			totals.DocumentsFailed++
		}
	}

	if err := p.registry.StampLastSync(ctx, pair.ProviderType, pair.ProviderName, time.Now().UTC()); err != nil {
		log.Error("failed to stamp last_sync_at", "error", err)
	}

	log.Info("provider run complete", "documents", len(descriptors))
	return nil
}

// processDocument indexes one document. A negative chunk count with a
// nil error means the document was skipped.
func (p *Pipeline) processDocument(ctx context.Context, prov provider.Provider, pair chunkstore.Pair, desc provider.Descriptor) (int, error) {
	const skipped = -1
	log := p.logger.With(
		"provider_type", pair.ProviderType,
		"provider_name", pair.ProviderName,
		"document_id", desc.DocumentID,
	)

	if desc.ETag != "" {
		indexed, err := p.store.IsIndexed(ctx, pair, desc.DocumentID, desc.ETag)
		if err != nil {
			return 0, fmt.Errorf("tracking check failed: %w", err)
		}
		if indexed {
			log.Debug("unchanged, skipping")
			return skipped, nil
		}
	}

	rc, err := prov.Fetch(ctx, desc.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("fetch failed: %w", err)
	}
	text, err := p.extractor.ExtractText(ctx, rc, desc.Filename)
	rc.Close()
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) {
			log.Warn("unsupported file type, skipping")
			return skipped, nil
		}
		return 0, fmt.Errorf("extraction failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		log.Warn("no text extracted, skipping")
		return skipped, nil
	}

	segments, err := p.chunker.Chunk(text)
	if err != nil {
		return 0, fmt.Errorf("chunking failed: %w", err)
	}
	if len(segments) == 0 {
		log.Warn("zero chunks produced, skipping")
		return skipped, nil
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(segments) {
		return 0, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(segments), len(vectors))
	}

	doc := chunkstore.DocumentRef{
		Pair:         pair,
		DocumentID:   desc.DocumentID,
		Filename:     desc.Filename,
		ETag:         desc.ETag,
		LastModified: desc.LastModified,
		RelativePath: desc.RelativePath,
	}

	chunks := make([]chunkstore.ChunkInput, len(segments))
	for i, seg := range segments {
		chunks[i] = chunkstore.ChunkInput{
			ChunkNum:  seg.ChunkNum,
			Text:      seg.Text,
			CharStart: seg.CharStart,
			CharEnd:   seg.CharEnd,
			Embedding: vectors[i],
		}
	}

	if err := p.store.UpsertDocumentChunks(ctx, doc, chunks); err != nil {
		// Tracking stays untouched so the next run retries.
		return 0, fmt.Errorf("chunk upsert failed: %w", err)
	}

	if desc.ETag != "" && !desc.LastModified.IsZero() {
		if err := p.store.UpdateFileTracking(ctx, doc); err != nil {
			return 0, fmt.Errorf("tracking update failed: %w", err)
		}
	}

	log.Info("document indexed", "chunks", len(chunks))
	return len(chunks), nil
}

// filterProviders applies the optional "type" or "type/name" run filter.
func (p *Pipeline) filterProviders(enabled []settings.EnabledProvider) []settings.EnabledProvider {
	if p.cfg.ProviderFilter == "" {
		return enabled
	}

	wantType := p.cfg.ProviderFilter
	wantName := ""
	if i := strings.IndexByte(p.cfg.ProviderFilter, '/'); i >= 0 {
		wantType, wantName = p.cfg.ProviderFilter[:i], p.cfg.ProviderFilter[i+1:]
	}

	var out []settings.EnabledProvider
	for _, e := range enabled {
		if e.ProviderType != wantType {
			continue
		}
		if wantName != "" && e.ProviderName != wantName {
			continue
		}
		out = append(out, e)
	}
	return out
}
