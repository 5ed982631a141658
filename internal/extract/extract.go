// Package extract turns an uploaded PDF or image into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"go.uber.org/zap"

	"lexbrief/internal/config"
	"lexbrief/internal/logger"
)

// Result is the text of one document.
type Result struct {
	Text     string
	Pages    int
	Method   string
	Duration time.Duration
}

// Extractor is stateless apart from its configuration and safe for concurrent use.
type Extractor struct {
	cfg    config.OCRConfig
	runner Runner
	log    *zap.Logger
	loader *file.FileLoader
}

type Option func(*Extractor)

// WithRunner replaces the command runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

func New(ctx context.Context, cfg config.OCRConfig, opts ...Option) (*Extractor, error) {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}

	e := &Extractor{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrGlobal(e.log)
	if e.runner == nil {
		e.runner = execRunner{log: e.log}
	}

	formats, err := newFormatParser(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("create format parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      formats,
	})
	if err != nil {
		return nil, fmt.Errorf("create file loader: %w", err)
	}
	e.loader = loader
	return e, nil
}

// Supported reports whether the extension (with dot, any case) can be extracted.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == ".pdf" || imageExts[ext]
}

// Extract reads the file at path. Unsupported extensions fail before the file is opened.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return Result{}, &UnsupportedFormatError{Ext: ext}
	}

	// parsers are keyed by lower-case extension
	route := strings.TrimSuffix(path, filepath.Ext(path)) + ext
	docs, err := e.loader.Load(ctx, document.Source{URI: path},
		document.WithParserOptions(parser.WithURI(route), withSourcePath(path)))
	if err != nil {
		var ufe *UnsupportedFormatError
		if errors.As(err, &ufe) {
			return Result{}, ufe
		}
		if errors.Is(err, ErrEmptyExtraction) {
			return Result{}, ErrEmptyExtraction
		}
		return Result{}, &ExtractionError{Path: filepath.Base(path), Err: err}
	}

	res := Result{Duration: time.Since(start)}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.Content)
		if n, ok := d.MetaData[metaPages].(int); ok {
			res.Pages += n
		}
		if m, ok := d.MetaData[metaMethod].(string); ok {
			res.Method = m
		}
	}
	res.Text = b.String()
	if strings.TrimSpace(res.Text) == "" {
		return Result{}, ErrEmptyExtraction
	}

	e.log.Info("document extracted",
		zap.String("file", filepath.Base(path)),
		zap.String("method", res.Method),
		zap.Int("pages", res.Pages),
		zap.Int("chars", len(res.Text)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
