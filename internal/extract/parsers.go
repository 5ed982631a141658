package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// Metadata keys set on parsed documents.
const (
	metaPages  = "pages"
	metaMethod = "method"
)

const (
	MethodPDFText  = "pdf-text"
	MethodPDFOCR   = "pdf-ocr"
	MethodImageOCR = "image-ocr"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tiff": true, ".tif": true,
}

// sourceOptions carries the on-disk path to the parsers. The loader URI has its
// extension lower-cased for routing, so it may not name a real file.
type sourceOptions struct {
	Path string
}

func withSourcePath(path string) parser.Option {
	return parser.WrapImplSpecificOptFn(func(o *sourceOptions) { o.Path = path })
}

func sourcePath(opts ...parser.Option) string {
	uri := parser.GetCommonOptions(&parser.Options{}, opts...).URI
	return parser.GetImplSpecificOptions(&sourceOptions{Path: uri}, opts...).Path
}

// newFormatParser routes every supported extension to its parser. Anything else
// reaches the fallback, which rejects it.
func newFormatParser(ctx context.Context, e *Extractor) (*parser.ExtParser, error) {
	parsers := map[string]parser.Parser{".pdf": &pdfParser{e: e}}
	img := &imageParser{e: e}
	for ext := range imageExts {
		parsers[ext] = img
	}
	return parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers:        parsers,
		FallbackParser: rejectParser{},
	})
}

type rejectParser struct{}

func (rejectParser) Parse(_ context.Context, _ io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	uri := parser.GetCommonOptions(&parser.Options{}, opts...).URI
	return nil, &UnsupportedFormatError{Ext: filepath.Ext(uri)}
}

var pdfMagic = []byte("%PDF-")

// sniff reads the head of the stream. An empty file has no text to extract.
func sniff(r io.Reader, n int) ([]byte, error) {
	head := make([]byte, n)
	read, err := io.ReadFull(r, head)
	switch {
	case read == 0 && (err == io.EOF || err == nil):
		return nil, ErrEmptyExtraction
	case err != nil && err != io.ErrUnexpectedEOF && err != io.EOF:
		return nil, err
	}
	return head[:read], nil
}

// pdfParser reads the text layer with pdftotext and, if that is blank,
// optionally OCRs rasterised pages. poppler needs a seekable file, so the
// stream is only checked for the PDF header.
type pdfParser struct {
	e *Extractor
}

func (p *pdfParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	path := sourcePath(opts...)

	head, err := sniff(r, len(pdfMagic))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(head, pdfMagic) {
		return nil, fmt.Errorf("not a pdf file")
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := p.e.runner.Run(ctx, p.e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, commandError("pdftotext", errb, err)
	}
	pages := splitPages(string(out))
	text := joinPages(pages)
	if strings.TrimSpace(text) != "" || !p.e.cfg.ScannedPDFOCR {
		return []*schema.Document{newDoc(text, len(pages), MethodPDFText)}, nil
	}

	p.e.log.Info("pdf has no text layer, falling back to ocr")
	ocrPages, err := p.ocr(ctx, path)
	if err != nil {
		return nil, err
	}
	return []*schema.Document{newDoc(joinPages(ocrPages), len(ocrPages), MethodPDFOCR)}, nil
}

func (p *pdfParser) ocr(ctx context.Context, path string) ([]string, error) {
	tmpDir, err := os.MkdirTemp("", "lexbrief-pp-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := p.e.runner.Run(ctx, p.e.cfg.Pdftoppm, "-r", strconv.Itoa(p.e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return nil, commandError("pdftoppm", errb, err)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if p.e.cfg.MaxPages > 0 && len(matches) > p.e.cfg.MaxPages {
		matches = matches[:p.e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm rendered no pages")
	}

	pages := make([]string, 0, len(matches))
	for _, img := range matches {
		txt, err := p.e.tesseract(ctx, img)
		if err != nil {
			return nil, err
		}
		pages = append(pages, txt)
	}
	return pages, nil
}

// imageParser OCRs a single image.
type imageParser struct {
	e *Extractor
}

func (p *imageParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	path := sourcePath(opts...)
	if _, err := sniff(r, 1); err != nil {
		return nil, err
	}
	txt, err := p.e.tesseract(ctx, path)
	if err != nil {
		return nil, err
	}
	return []*schema.Document{newDoc(txt, 1, MethodImageOCR)}, nil
}

func (e *Extractor) tesseract(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", e.cfg.Lang)
	if err != nil {
		return "", commandError("tesseract", errb, err)
	}
	return string(out), nil
}

func newDoc(text string, pages int, method string) *schema.Document {
	return &schema.Document{
		Content:  text,
		MetaData: map[string]any{metaPages: pages, metaMethod: method},
	}
}

// splitPages splits pdftotext output on form feeds, dropping the empty tail
// after the final page break.
func splitPages(out string) []string {
	pages := strings.Split(out, "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}

func joinPages(pages []string) string {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

func commandError(name string, stderr []byte, err error) error {
	msg := strings.TrimSpace(truncate(string(stderr), 512))
	if msg == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %s", name, err, msg)
}
