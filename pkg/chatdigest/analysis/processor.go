// Package analysis is the document analysis pipeline: it claims batches of
// new documents, downloads and extracts them, and stores a short summary for
// each one.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/extract"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/lease"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/llm"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/metrics"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/store"
)

const (
	systemPrompt = "You are a helpful assistant that summarizes documents. " +
		"Return a concise summary (plain text, no markdown)."
	userPrefix = "Summarize the following document:\n\n"

	persistTimeout = 30 * time.Second
)

// Store is the storage the pipeline needs.
type Store interface {
	GetUnprocessedDocuments(ctx context.Context, limit int) ([]models.Document, error)
	MarkPending(ctx context.Context, docs []models.Document) ([]models.Document, error)
	SaveDocumentSummary(ctx context.Context, doc models.Document, summary string) error
	MarkDocumentError(ctx context.Context, doc models.Document) error
}

// Fetcher downloads document bytes by platform file handle.
type Fetcher interface {
	FetchFile(ctx context.Context, handle string) ([]byte, error)
}

// Config configures the pipeline.
type Config struct {
	// BatchSize is the maximum number of documents claimed per tick.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is the pause between ticks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxTokens bounds the length of each document summary.
	MaxTokens int `yaml:"max_tokens"`

	// DocumentTimeout bounds the work on one document, including shutdown
	// draining.
	DocumentTimeout time.Duration `yaml:"document_timeout"`

	// MaxFileBytes skips the download of documents reported larger than
	// this; they end in ERROR.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:       3,
		PollInterval:    5 * time.Second,
		MaxTokens:       200,
		DocumentTimeout: 2 * time.Minute,
		MaxFileBytes:    20 << 20,
	}
}

// Result reports what one tick did.
type Result struct {
	Selected int
	Claimed  int
	Analyzed int
	Failed   int
}

// Processor runs the document analysis pipeline.
type Processor struct {
	store     Store
	fetcher   Fetcher
	extractor extract.Extractor
	llm       llm.Completer
	lease     lease.Lease
	cfg       Config
	logger    *slog.Logger
}

// NewProcessor creates a pipeline. A nil lease means no cross-instance guard.
func NewProcessor(st Store, fetcher Fetcher, extractor extract.Extractor, completer llm.Completer, l lease.Lease, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if l == nil {
		l = lease.Nop{}
	}
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = defaults.DocumentTimeout
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaults.MaxFileBytes
	}
	return &Processor{
		store:     st,
		fetcher:   fetcher,
		extractor: extractor,
		llm:       completer,
		lease:     l,
		cfg:       cfg,
		logger:    logger.With("component", "analysis"),
	}
}

// RunOnce claims one batch and processes it sequentially. Errors from
// selecting or claiming documents are returned; per-document failures end
// the document in ERROR and are not.
func (p *Processor) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	held, err := p.lease.Acquire(ctx)
	if err != nil {
		p.logger.Warn("lease unavailable, skipping tick", "error", err)
		return res, nil
	}
	if !held {
		p.logger.Debug("lease held by another instance, skipping tick")
		return res, nil
	}
	defer func() {
		if err := p.lease.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("failed to release lease", "error", err)
		}
	}()

	docs, err := p.store.GetUnprocessedDocuments(ctx, p.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("selecting documents: %w", err)
	}
	res.Selected = len(docs)
	if len(docs) == 0 {
		return res, nil
	}

	claimed, err := p.store.MarkPending(ctx, docs)
	if err != nil {
		return res, fmt.Errorf("claiming documents: %w", err)
	}
	res.Claimed = len(claimed)

	start := time.Now()
	defer func() { metrics.AnalysisBatchSeconds.Observe(time.Since(start).Seconds()) }()

	// Claimed documents are finished even when ctx is cancelled, so none is
	// left pending by a shutdown.
	drain := context.WithoutCancel(ctx)
	for _, doc := range claimed {
		ok, err := p.processDocument(drain, doc)
		if err != nil {
			return res, err
		}
		if ok {
			res.Analyzed++
		} else {
			res.Failed++
		}
	}

	p.logger.Info("batch processed",
		"claimed", res.Claimed, "analyzed", res.Analyzed, "failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// processDocument analyzes one document and records the outcome. It returns
// an error only when neither outcome could be persisted.
func (p *Processor) processDocument(ctx context.Context, doc models.Document) (bool, error) {
	logger := p.logger.With("document_id", doc.ID, "file", doc.FileName)

	workCtx, cancel := context.WithTimeout(ctx, p.cfg.DocumentTimeout)
	summary, err := p.analyze(workCtx, doc)
	cancel()

	// The outcome is persisted even when the work ran out of time.
	ctx, cancel = context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err == nil {
		err = p.store.SaveDocumentSummary(ctx, doc, summary)
		if err == nil {
			metrics.DocumentsTotal.WithLabelValues(string(models.StatusAnalyzed)).Inc()
			logger.Info("document analyzed", "summary_len", len(summary))
			return true, nil
		}
		if errors.Is(err, store.ErrStatusConflict) {
			logger.Warn("document changed state during analysis", "error", err)
			return false, nil
		}
		logger.Error("failed to save document summary", "error", err)
	} else {
		logger.Warn("document analysis failed", "error", err)
	}

	if merr := p.store.MarkDocumentError(ctx, doc); merr != nil {
		if errors.Is(merr, store.ErrStatusConflict) {
			logger.Warn("document changed state before error could be recorded", "error", merr)
			return false, nil
		}
		return false, fmt.Errorf("recording failure of document %d: %w", doc.ID, errors.Join(err, merr))
	}
	metrics.DocumentsTotal.WithLabelValues(string(models.StatusError)).Inc()
	return false, nil
}

// analyze downloads, extracts and summarizes. A panic becomes an error so
// the document still reaches ERROR.
func (p *Processor) analyze(ctx context.Context, doc models.Document) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during analysis: %v", r)
		}
	}()

	if doc.SizeBytes > p.cfg.MaxFileBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", extract.ErrTooLarge, doc.SizeBytes, p.cfg.MaxFileBytes)
	}
	data, err := p.fetcher.FetchFile(ctx, doc.FileHandle)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	text, err := p.extractor.Extract(ctx, data, doc.MimeType, doc.FileName)
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	summary, err = p.llm.Complete(ctx, systemPrompt, userPrefix+text, p.cfg.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}

// RunForever ticks until ctx is cancelled, returning daemon.ErrShutdown, or
// until a tick fails.
func (p *Processor) RunForever(ctx context.Context) error {
	p.logger.Info("document analysis started",
		"batch_size", p.cfg.BatchSize, "poll_interval", p.cfg.PollInterval)
	for {
		if ctx.Err() != nil {
			return daemon.Shutdown(ctx)
		}
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return daemon.Shutdown(ctx)
			}
			return err
		}
		if err := daemon.Sleep(ctx, p.cfg.PollInterval); err != nil {
			return err
		}
	}
}
