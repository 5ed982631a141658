// Package documents owns the upload pipeline and the chat flow over a stored session.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lexbrief/internal/extract"
	"lexbrief/internal/logger"
	"lexbrief/internal/models"
	"lexbrief/internal/prompt"
	"lexbrief/internal/session"
)

// DefaultLanguage is the translation target when the upload names none.
const DefaultLanguage = "Hindi"

// ErrSessionNotFound is returned by Chat and Get for unknown or expired ids.
var ErrSessionNotFound = session.ErrNotFound

// ValidationError reports a request the service refuses before doing any work.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type Extractor interface {
	Extract(ctx context.Context, path string) (extract.Result, error)
}

type Analyst interface {
	Classify(ctx context.Context, text string) (prompt.Task, error)
	Execute(ctx context.Context, task prompt.Task, text string) (string, error)
	Translate(ctx context.Context, text, language string) (string, error)
	Answer(ctx context.Context, text string, transcript []models.Turn, question string) (string, error)
}

// Runner executes fn, possibly on another goroutine, and waits for it.
type Runner interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

type inlineRunner struct{}

func (inlineRunner) Do(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// Options tunes the service.
type Options struct {
	// BaseDir is where uploads are saved, one directory per session.
	BaseDir         string
	SessionTTL      time.Duration
	PipelineTimeout time.Duration
}

// Deps are the collaborators of Service. Runner and Logger are optional.
type Deps struct {
	Extractor Extractor
	Analyst   Analyst
	Store     session.Store
	Runner    Runner
	Logger    *zap.Logger
}

type Service struct {
	opts      Options
	extractor Extractor
	analyst   Analyst
	store     session.Store
	runner    Runner
	chats     *keyedMutex
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(opts Options, deps Deps) *Service {
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Join(os.TempDir(), "lexbrief-uploads")
	}
	runner := deps.Runner
	if runner == nil {
		runner = inlineRunner{}
	}
	return &Service{
		opts:      opts,
		extractor: deps.Extractor,
		analyst:   deps.Analyst,
		store:     deps.Store,
		runner:    runner,
		chats:     newKeyedMutex(),
		log:       logger.OrGlobal(deps.Logger),
		tracer:    otel.Tracer("lexbrief/documents"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Upload is one file handed to Process.
type Upload struct {
	FileName string
	Language string
	Body     io.Reader
	// ClientKey groups work for fair scheduling, usually the client address.
	ClientKey string
}

// Process saves the upload, extracts its text, classifies it, summarizes it,
// translates the summary and stores a new session. Nothing is stored on failure.
func (s *Service) Process(ctx context.Context, up Upload) (*models.DocumentSession, error) {
	name := sanitizeFileName(up.FileName)
	if name == "" {
		return nil, &ValidationError{Message: "No selected file"}
	}
	if up.Body == nil {
		return nil, &ValidationError{Message: "No file part provided"}
	}
	language := strings.TrimSpace(up.Language)
	if language == "" {
		language = DefaultLanguage
	}

	id := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "documents.process", trace.WithAttributes(
		attribute.String("doc.id", id),
		attribute.String("doc.file_name", name),
		attribute.String("doc.language", language),
	))
	defer span.End()

	path, err := s.saveUpload(id, name, up.Body)
	if err != nil {
		return nil, fail(span, err)
	}

	var doc *models.DocumentSession
	err = s.runner.Do(ctx, up.ClientKey, func(ctx context.Context) error {
		if s.opts.PipelineTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.PipelineTimeout)
			defer cancel()
		}
		var err error
		doc, err = s.pipeline(ctx, id, name, path, language)
		return err
	})
	if err != nil {
		s.removeDir(id)
		level := zap.WarnLevel
		if isClientError(err) {
			level = zap.InfoLevel
		}
		s.log.Log(level, "document processing failed", zap.String("doc_id", id), zap.String("file", name), zap.Error(err))
		return nil, fail(span, err)
	}
	s.log.Info("document processed", zap.String("doc_id", id), zap.String("task", doc.Task), zap.String("language", language))
	return doc, nil
}

func (s *Service) pipeline(ctx context.Context, id, name, path, language string) (*models.DocumentSession, error) {
	var res extract.Result
	err := s.stage(ctx, "extract", func(ctx context.Context) error {
		var err error
		res, err = s.extractor.Extract(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, extract.ErrEmptyExtraction
	}

	var task prompt.Task
	if err := s.stage(ctx, "classify", func(ctx context.Context) error {
		var err error
		task, err = s.analyst.Classify(ctx, res.Text)
		return err
	}); err != nil {
		return nil, err
	}

	var summary string
	if err := s.stage(ctx, "summarize", func(ctx context.Context) error {
		var err error
		summary, err = s.analyst.Execute(ctx, task, res.Text)
		return err
	}); err != nil {
		return nil, err
	}

	var translated string
	if err := s.stage(ctx, "translate", func(ctx context.Context) error {
		var err error
		translated, err = s.analyst.Translate(ctx, summary, language)
		return err
	}); err != nil {
		return nil, err
	}

	now := s.now()
	doc := &models.DocumentSession{
		ID:                id,
		FileName:          name,
		StoredPath:        path,
		Text:              res.Text,
		Task:              task.String(),
		Summary:           summary,
		Language:          language,
		TranslatedSummary: translated,
		Transcript:        []models.Turn{},
		CreatedAt:         now,
	}
	if s.opts.SessionTTL > 0 {
		doc.ExpiresAt = now.Add(s.opts.SessionTTL)
	}
	if err := s.stage(ctx, "store", func(ctx context.Context) error {
		return s.store.Create(ctx, doc)
	}); err != nil {
		return nil, err
	}
	return doc, nil
}

// Chat answers question about the session's document and records the turn.
// Chats on one document are serialised so each answer sees every earlier turn.
func (s *Service) Chat(ctx context.Context, id, question string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimSpace(question) == "" {
		return "", &ValidationError{Message: "Missing question or doc_id"}
	}

	ctx, span := s.tracer.Start(ctx, "documents.chat", trace.WithAttributes(attribute.String("doc.id", id)))
	defer span.End()

	unlock, err := s.chats.Lock(ctx, id)
	if err != nil {
		return "", fail(span, err)
	}
	defer unlock()

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return "", fail(span, err)
	}

	var answer string
	err = s.runner.Do(ctx, id, func(ctx context.Context) error {
		return s.stage(ctx, "answer", func(ctx context.Context) error {
			var err error
			answer, err = s.analyst.Answer(ctx, doc.Text, doc.Transcript, question)
			return err
		})
	})
	if err != nil {
		return "", fail(span, err)
	}

	turn := models.Turn{Question: question, Answer: answer, CreatedAt: s.now()}
	if err := s.store.AppendTurn(ctx, id, turn); err != nil {
		return "", fail(span, err)
	}
	return answer, nil
}

// Get returns the stored session.
func (s *Service) Get(ctx context.Context, id string) (*models.DocumentSession, error) {
	return s.store.Get(ctx, strings.TrimSpace(id))
}

func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "documents."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	s.log.Debug("pipeline stage", zap.String("stage", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
	if err != nil {
		return fail(span, err)
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Service) saveUpload(id, name string, body io.Reader) (string, error) {
	dir := filepath.Join(s.opts.BaseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

func (s *Service) removeDir(id string) {
	if id == "" {
		return
	}
	if err := os.RemoveAll(filepath.Join(s.opts.BaseDir, id)); err != nil {
		s.log.Warn("remove upload dir failed", zap.String("doc_id", id), zap.Error(err))
	}
}

// sanitizeFileName keeps only the base name so uploads cannot escape their directory.
func sanitizeFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// isClientError reports errors caused by the uploaded content rather than the service.
func isClientError(err error) bool {
	var ufe *extract.UnsupportedFormatError
	var ve *ValidationError
	return errors.As(err, &ufe) || errors.As(err, &ve) || errors.Is(err, extract.ErrEmptyExtraction)
}
