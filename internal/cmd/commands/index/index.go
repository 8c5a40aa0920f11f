// Package index implements the finite indexing job command.
package index

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/docfoundry/docfoundry/internal/cmd/base"
	"github.com/docfoundry/docfoundry/pkg/chunk"
	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/database"
	"github.com/docfoundry/docfoundry/pkg/extract"
	"github.com/docfoundry/docfoundry/pkg/indexer"
	"github.com/docfoundry/docfoundry/pkg/llm"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

type Command struct {
	*base.Command

	flagForceFullReindex  bool
	flagSkipOrphanCleanup bool
	flagMaxFiles          int
	flagProvider          string
	flagChunkSize         int
	flagChunkOverlap      int
}

func (c *Command) Synopsis() string {
	return "Run a one-shot indexing pass over all enabled providers"
}

func (c *Command) Help() string {
	return `Usage: docfoundry index [options]

  Enumerates every enabled document provider, extracts and chunks new or
  changed documents, embeds them, and writes the chunks to the vector
  store. The job exits when all providers have been processed.

  Exit codes: 0 on success, 1 when nothing was processed or a provider
  failed, 130 when cancelled by signal.

  Database connection settings come from the DOCFOUNDRY_DB_* environment
  variables (or DOCFOUNDRY_DB_DSN).

Options:

  -force-full-reindex
      Delete each provider's chunks and tracking rows before indexing.

  -skip-orphan-cleanup
      Keep chunks for documents that no longer exist at the source.

  -max-files=<n>
      Index at most n files per provider. Useful for smoke runs.

  -provider=<type[/name]>
      Restrict the run to one provider type or instance.

  -chunk-size=<n>
      Chunk width in characters. Defaults to 1000.

  -chunk-overlap=<n>
      Overlap between adjacent chunks in characters. Defaults to 200.
`
}

func (c *Command) Flags() *flag.FlagSet {
	f := flag.NewFlagSet("index", flag.ContinueOnError)
	f.BoolVar(&c.flagForceFullReindex, "force-full-reindex", false,
		"delete provider data before indexing")
	f.BoolVar(&c.flagSkipOrphanCleanup, "skip-orphan-cleanup", false,
		"skip deletion of chunks for removed documents")
	f.IntVar(&c.flagMaxFiles, "max-files", 0, "limit files per provider (0 = no limit)")
	f.StringVar(&c.flagProvider, "provider", "", "restrict to provider type or type/name")
	f.IntVar(&c.flagChunkSize, "chunk-size", chunk.DefaultSize, "chunk width in characters")
	f.IntVar(&c.flagChunkOverlap, "chunk-overlap", chunk.DefaultOverlap,
		"overlap between adjacent chunks")
	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, base.DatabaseConfigFromEnv(), c.Log.Named("db"))
	if err != nil {
		return c.ErrorOut(fmt.Errorf("connecting to database: %w", err))
	}
	if err := database.Migrate(db, c.Log); err != nil {
		return c.ErrorOut(fmt.Errorf("migrating database: %w", err))
	}

	svc := settings.NewService(db, c.Log.Named("settings"))
	if err := svc.Load(ctx); err != nil {
		return c.ErrorOut(fmt.Errorf("loading settings: %w", err))
	}
	aiCfg := svc.GetAiSettings()

	store, err := chunkstore.NewStore(db, aiCfg.EmbeddingDimensions, c.Log.Named("store"))
	if err != nil {
		return c.ErrorOut(fmt.Errorf("creating chunk store: %w", err))
	}

	client := llm.NewClient(llm.Config{
		APIKey:  aiCfg.APIKey,
		BaseURL: aiCfg.BaseURL,
		Logger:  c.Log,
	})
	embedder, err := llm.NewBatchEmbedder(llm.BatchEmbedderConfig{
		Client:     client,
		Model:      aiCfg.EmbeddingModel,
		Dimensions: aiCfg.EmbeddingDimensions,
		BatchSize:  aiCfg.EmbeddingBatchSize,
		Logger:     c.Log,
	})
	if err != nil {
		return c.ErrorOut(fmt.Errorf("creating embedder: %w", err))
	}

	pipeline, err := indexer.NewPipeline(indexer.PipelineConfig{
		Settings:  svc,
		Store:     store,
		Registry:  indexer.NewGormRegistry(db),
		Extractor: extract.NewRegistry(c.Log.Named("extract")),
		Chunker:   chunk.New(c.flagChunkSize, c.flagChunkOverlap),
		Embedder:  embedder,
		Config: indexer.Config{
			ForceFullReindex:  c.flagForceFullReindex,
			SkipOrphanCleanup: c.flagSkipOrphanCleanup,
			MaxFiles:          c.flagMaxFiles,
			ProviderFilter:    c.flagProvider,
		},
		Logger: c.Log,
	})
	if err != nil {
		return c.ErrorOut(fmt.Errorf("creating pipeline: %w", err))
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		return c.ErrorOut(fmt.Errorf("indexing run: %w", err))
	}

	if result.Failures != nil {
		c.UI.Warn(fmt.Sprintf("failures during run:\n%v", result.Failures))
	}

	t := result.Totals
	c.UI.Output(fmt.Sprintf(
		"Indexing %s: %d providers, %d documents indexed, %d skipped, %d failed, %d chunks written, %d documents removed (%s)",
		result.Status,
		t.ProvidersProcessed,
		t.DocumentsProcessed,
		t.DocumentsSkipped,
		t.DocumentsFailed,
		t.ChunksWritten,
		t.DocumentsRemoved,
		t.Elapsed.Round(time.Millisecond),
	))

	switch result.Status {
	case indexer.StatusSuccess:
		return 0
	case indexer.StatusCancelled:
		return 130
	default:
		// StatusNoOp and StatusError both signal that nothing useful
		// happened.
		return 1
	}
}
