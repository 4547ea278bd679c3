package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/passport-scanner/internal/logging"
)

// Processor turns one document into processed items without failing.
type Processor interface {
	Process(ctx context.Context, doc SourceDocument) []ProcessedItem
}

// BatchOptions tunes how a batch is driven.
type BatchOptions struct {
	// Workers > 1 processes documents in parallel when the processor is
	// concurrency safe. Output order is unaffected.
	Workers int
	// DocumentTimeout abandons a single document after this long. Zero disables it.
	DocumentTimeout time.Duration
	// OnDocument is called once per supported document after it finishes. It
	// may be called from several goroutines at once.
	OnDocument func(doc SourceDocument, items []ProcessedItem)
}

// BatchOrchestrator applies a Processor across a set of documents.
type BatchOrchestrator struct {
	processor Processor
	opts      BatchOptions
	logger    *zap.Logger
}

// NewBatchOrchestrator creates an orchestrator around processor.
func NewBatchOrchestrator(processor Processor, opts BatchOptions, logger *zap.Logger) *BatchOrchestrator {
	return &BatchOrchestrator{
		processor: processor,
		opts:      opts,
		logger:    logger.Named("batch_orchestrator"),
	}
}

// ProcessBatch runs every supported document and aggregates the items in
// submission order. Unsupported documents are skipped and not counted. When
// no item succeeded the populated result is returned together with ErrAllFailed.
func (o *BatchOrchestrator) ProcessBatch(ctx context.Context, requestID string, docs []SourceDocument) (*BatchResult, error) {
	opLogger := logging.WithOperation(o.logger, "pipeline.process_batch", requestID)

	supported := make([]SourceDocument, 0, len(docs))
	for _, doc := range docs {
		if doc.Kind == KindUnsupported {
			opLogger.Info("skipping unsupported document", zap.String("document", doc.Name))
			continue
		}
		supported = append(supported, doc)
	}

	outputs := make([][]ProcessedItem, len(supported))
	if o.parallel() && len(supported) > 1 {
		var g errgroup.Group
		g.SetLimit(o.opts.Workers)
		for i, doc := range supported {
			g.Go(func() error {
				outputs[i] = o.runDocument(ctx, doc)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, doc := range supported {
			outputs[i] = o.runDocument(ctx, doc)
		}
	}

	result := &BatchResult{DocumentsSubmitted: len(supported)}
	names := make(map[string]bool)
	for i, doc := range supported {
		items := outputs[i]
		if len(items) == 0 {
			items = []ProcessedItem{failure("error_"+baseName(doc.Name)+".txt", doc.Name, ErrEmptyDocument)}
		}

		succeeded := false
		for _, item := range items {
			// Uploads sharing a base name would otherwise collide in the archive.
			item.Name = UniqueName(names, item.Name)
			if item.Succeeded() {
				result.PagesProcessed++
				succeeded = true
			} else {
				result.Failures++
			}
			result.Items = append(result.Items, item)
		}
		if succeeded {
			result.DocumentsProcessed++
		}
	}

	opLogger.Info("batch processed",
		zap.Int("documents_submitted", result.DocumentsSubmitted),
		zap.Int("documents_processed", result.DocumentsProcessed),
		zap.Int("pages_processed", result.PagesProcessed),
		zap.Int("failures", result.Failures),
	)

	if result.AllFailed() {
		return result, fmt.Errorf("%w: %d documents, %d failures", ErrAllFailed, result.DocumentsSubmitted, result.Failures)
	}
	return result, nil
}

func (o *BatchOrchestrator) parallel() bool {
	return o.opts.Workers > 1 && o.concurrencySafe()
}

func (o *BatchOrchestrator) concurrencySafe() bool {
	cs, ok := o.processor.(interface{ ConcurrencySafe() bool })
	return ok && cs.ConcurrencySafe()
}

func (o *BatchOrchestrator) runDocument(ctx context.Context, doc SourceDocument) []ProcessedItem {
	items := o.processWithDeadline(ctx, doc)
	if o.opts.OnDocument != nil {
		o.opts.OnDocument(doc, items)
	}
	return items
}

// processWithDeadline abandons the document once its deadline passes. The
// abandoned goroutine only writes to its own buffered channel.
func (o *BatchOrchestrator) processWithDeadline(ctx context.Context, doc SourceDocument) []ProcessedItem {
	if o.opts.DocumentTimeout <= 0 {
		return o.processor.Process(ctx, doc)
	}

	docCtx, cancel := context.WithTimeout(ctx, o.opts.DocumentTimeout)
	defer cancel()

	done := make(chan []ProcessedItem, 1)
	go func() {
		done <- o.processor.Process(docCtx, doc)
	}()

	select {
	case items := <-done:
		return items
	case <-docCtx.Done():
		err := docCtx.Err()
		if err == context.DeadlineExceeded {
			err = ErrTimeout
		}
		o.logger.Warn("document abandoned",
			zap.String("document", doc.Name),
			zap.Duration("timeout", o.opts.DocumentTimeout),
			zap.Error(err),
		)
		// An unsafe processor must not see the next document while this one
		// is still running, so wait for it to notice the cancellation.
		if !o.concurrencySafe() {
			<-done
		}
		return []ProcessedItem{failure("error_"+baseName(doc.Name)+".txt", doc.Name, err)}
	}
}

// UniqueName returns name, or name with a _2, _3... suffix before the
// extension when an earlier item already took it.
func UniqueName(taken map[string]bool, name string) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	taken[candidate] = true
	return candidate
}
