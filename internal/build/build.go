package build

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tyxk8160/mathtag"
	"github.com/tyxk8160/mathtag/internal/cache"
	"github.com/tyxk8160/mathtag/internal/metrics"
)

// Options configures a directory build
type Options struct {
	Input       string
	Output      string // Empty rewrites files in place
	Workers     int
	Encoding    string // Forced input encoding label, empty sniffs it
	Fingerprint string // Identifies rewriter settings for the cache
}

// Report summarizes a build
type Report struct {
	Files     int            `json:"files"`
	Written   int            `json:"written"`
	Cached    int            `json:"cached"`
	Unchanged int            `json:"unchanged"` // In-place files whose rewrite matched the source
	Result    mathtag.Result `json:"result"`
}

// outcome is what happened to a single file
type outcome int

const (
	outcomeWritten outcome = iota
	outcomeCached
	outcomeUnchanged
)

// Builder rewrites every HTML file under a directory
type Builder struct {
	rewriter *mathtag.Rewriter
	cache    *cache.Cache // Optional
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New creates a Builder. cache and collector may be nil.
func New(rw *mathtag.Rewriter, c *cache.Cache, collector *metrics.Collector, logger *zap.Logger) *Builder {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		rewriter: rw,
		cache:    c,
		metrics:  collector,
		logger:   logger,
	}
}

// IsHTML reports whether path names an HTML file
func IsHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// Run rewrites all HTML files under opts.Input
func (b *Builder) Run(ctx context.Context, opts Options) (Report, error) {
	files, err := collect(opts.Input, opts.Output)
	if err != nil {
		return Report{}, err
	}
	return b.Files(ctx, opts, files)
}

// Files rewrites the given files, each relative to opts.Input
func (b *Builder) Files(ctx context.Context, opts Options, files []string) (Report, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu     sync.Mutex
		report = Report{Files: len(files)}
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			done, result, err := b.file(ctx, opts, rel)
			if err != nil {
				b.metrics.IncrementDocumentError()
				return fmt.Errorf("failed to build %s: %w", rel, err)
			}

			mu.Lock()
			defer mu.Unlock()
			switch done {
			case outcomeWritten:
				report.Written++
				report.Result.Add(result)
			case outcomeCached:
				report.Cached++
			case outcomeUnchanged:
				report.Unchanged++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	b.logger.Info("build complete",
		zap.Int("files", report.Files),
		zap.Int("written", report.Written),
		zap.Int("cached", report.Cached),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("inline_spans", report.Result.InlineSpans),
		zap.Int("block_spans", report.Result.BlockSpans),
	)
	return report, nil
}

// file rewrites one file. An in-place rewrite that reproduces the source is
// not written back, so a watcher on the input sees no further event.
func (b *Builder) file(ctx context.Context, opts Options, rel string) (outcome, mathtag.Result, error) {
	src := filepath.Join(opts.Input, rel)
	dst := src
	if opts.Output != "" {
		dst = filepath.Join(opts.Output, rel)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return outcomeWritten, mathtag.Result{}, fmt.Errorf("failed to read source: %w", err)
	}
	sourceHash := cache.Hash(data)

	if b.cache != nil {
		fresh, err := b.cache.Fresh(ctx, rel, sourceHash, opts.Fingerprint)
		if err != nil {
			return outcomeWritten, mathtag.Result{}, err
		}
		if fresh && outputExists(dst, src) {
			b.metrics.IncrementCacheHit()
			b.logger.Debug("cached", zap.String("path", rel))
			return outcomeCached, mathtag.Result{}, nil
		}
		b.metrics.IncrementCacheMiss()
	}

	var doc *mathtag.Document
	if opts.Encoding != "" {
		doc, err = mathtag.ParseDocumentEncoding(bytes.NewReader(data), opts.Encoding)
	} else {
		doc, err = mathtag.ParseDocument(bytes.NewReader(data), "text/html")
	}
	if err != nil {
		return outcomeWritten, mathtag.Result{}, err
	}

	out, result, err := b.rewriter.ProcessDocument(doc)
	if err != nil {
		return outcomeWritten, result, err
	}
	b.metrics.RecordResult(result)

	done := outcomeWritten
	if dst == src && out == string(data) {
		done = outcomeUnchanged
	} else {
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return outcomeWritten, result, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(dst, []byte(out), 0644); err != nil {
			return outcomeWritten, result, fmt.Errorf("failed to write output: %w", err)
		}
	}

	if b.cache != nil {
		// In-place builds hash the written file so the next run sees it as fresh
		storedHash := sourceHash
		if dst == src {
			storedHash = cache.Hash([]byte(out))
		}
		err := b.cache.Store(ctx, cache.Entry{
			Path:        rel,
			SourceHash:  storedHash,
			ConfigHash:  opts.Fingerprint,
			OutputHash:  cache.Hash([]byte(out)),
			InlineSpans: result.InlineSpans,
			BlockSpans:  result.BlockSpans,
		})
		if err != nil {
			return done, result, err
		}
	}

	if done == outcomeUnchanged {
		b.logger.Debug("unchanged", zap.String("path", rel))
		return done, result, nil
	}
	b.logger.Debug("rewrote",
		zap.String("path", rel),
		zap.Int("inline_spans", result.InlineSpans),
		zap.Int("block_spans", result.BlockSpans),
	)
	return done, result, nil
}

func outputExists(dst, src string) bool {
	if dst == src {
		return true
	}
	_, err := os.Stat(dst)
	return err == nil
}

// collect lists HTML files under input relative to it, skipping output when
// it is nested inside input
func collect(input, output string) ([]string, error) {
	absOutput := ""
	if output != "" {
		if abs, err := filepath.Abs(output); err == nil {
			absOutput = abs
		}
	}

	var files []string
	err := filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if absOutput != "" && path != input {
				if abs, err := filepath.Abs(path); err == nil && abs == absOutput {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !IsHTML(path) {
			return nil
		}
		rel, err := filepath.Rel(input, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", input, err)
	}
	return files, nil
}
