// Command passport-extract crops passport photos from local files into a zip.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/passport-scanner/internal/app"
	"github.com/example/passport-scanner/internal/archive"
	"github.com/example/passport-scanner/internal/config"
	"github.com/example/passport-scanner/internal/logging"
	"github.com/example/passport-scanner/internal/pipeline"
)

type options struct {
	Output   string
	Workers  int
	MaxPages int
	Cascade  string
	LogLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "passport-extract [files...]",
		Short:        "Extract passport photos from images and PDFs",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "out", "o", "results.zip", "Path of the zip archive to write")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "Documents processed in parallel (default from BATCH_WORKERS)")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "Largest PDF accepted (default from MAX_PDF_PAGES)")
	cmd.Flags().StringVarP(&opts.Cascade, "cascade", "c", "", "Path to a pigo face cascade (default: CASCADE_PATH, else the embedded facefinder)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	return cmd
}

func run(ctx context.Context, opts options, paths []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)

	logger, err := logging.NewLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	docs, err := readDocuments(paths)
	if err != nil {
		return err
	}

	// OnDocument only fires for supported documents.
	bar := progressbar.NewOptions(supportedCount(docs),
		progressbar.OptionSetDescription("Extracting faces"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	orchestrator, err := app.NewOrchestrator(cfg, logger, func(pipeline.SourceDocument, []pipeline.ProcessedItem) {
		_ = bar.Add(1)
	})
	if err != nil {
		return fmt.Errorf("load face detector: %w", err)
	}

	result, batchErr := orchestrator.ProcessBatch(ctx, "cli", docs)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if batchErr != nil && !errors.Is(batchErr, pipeline.ErrAllFailed) {
		return batchErr
	}

	if err := writeArchive(opts.Output, result); err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, archive.Report(result))
	logger.Info("archive written", zap.String("path", opts.Output), zap.Int("items", len(result.Items)))

	return batchErr
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.MaxPages > 0 {
		cfg.MaxPages = opts.MaxPages
	}
	if opts.Cascade != "" {
		cfg.CascadePath = opts.Cascade
	}
}

// readDocuments loads each path and sniffs its media kind. Unsupported files
// are kept so the orchestrator logs and skips them.
func readDocuments(paths []string) ([]pipeline.SourceDocument, error) {
	docs := make([]pipeline.SourceDocument, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, pipeline.SourceDocument{
			Name: filepath.Base(path),
			Kind: pipeline.KindFromContentType(mimetype.Detect(data).String()),
			Data: data,
		})
	}
	return docs, nil
}

func supportedCount(docs []pipeline.SourceDocument) int {
	n := 0
	for _, doc := range docs {
		if doc.Kind != pipeline.KindUnsupported {
			n++
		}
	}
	return n
}

func writeArchive(path string, result *pipeline.BatchResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return archive.Write(f, result)
}
