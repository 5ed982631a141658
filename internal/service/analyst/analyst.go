// Package analyst runs the model-backed steps over a document: classify,
// summarize, translate and answer questions.
package analyst

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"lexbrief/internal/llm"
	"lexbrief/internal/logger"
	"lexbrief/internal/models"
	"lexbrief/internal/prompt"
)

// Service holds no per-document state and is safe for concurrent use.
type Service struct {
	model   llm.Model
	catalog *prompt.Catalog
	log     *zap.Logger
}

func NewService(model llm.Model, catalog *prompt.Catalog, log *zap.Logger) *Service {
	if catalog == nil {
		catalog = prompt.NewCatalog()
	}
	return &Service{model: model, catalog: catalog, log: logger.OrGlobal(log)}
}

// Classify asks the model which summary task fits the document. A reply that is
// not exactly one summary keyword (after trimming whitespace and quotes) is an
// UnknownTaskError.
func (s *Service) Classify(ctx context.Context, text string) (prompt.Task, error) {
	req, err := s.catalog.Classify(ctx, text)
	if err != nil {
		return prompt.Unknown, err
	}
	reply, err := s.model.Generate(ctx, req)
	if err != nil {
		return prompt.Unknown, err
	}
	keyword := normalizeKeyword(reply)
	task, ok := prompt.ParseTask(keyword)
	if !ok || !task.IsSummary() {
		s.log.Warn("classifier returned unknown task", zap.String("reply", keyword))
		return prompt.Unknown, &prompt.UnknownTaskError{Task: keyword}
	}
	s.log.Info("document classified", zap.Stringer("task", task))
	return task, nil
}

func normalizeKeyword(reply string) string {
	reply = strings.TrimSpace(reply)
	return strings.NewReplacer("'", "", `"`, "").Replace(reply)
}

// Execute runs a summary task over the document text.
func (s *Service) Execute(ctx context.Context, task prompt.Task, text string) (string, error) {
	req, err := s.catalog.Summary(ctx, task, text)
	if err != nil {
		return "", err
	}
	return s.model.Generate(ctx, req)
}

// Translate renders text in the target language. The language is passed through as given.
func (s *Service) Translate(ctx context.Context, text, language string) (string, error) {
	req, err := s.catalog.Translate(ctx, text, language)
	if err != nil {
		return "", err
	}
	return s.model.Generate(ctx, req)
}

// Answer responds to question using only the document text and prior turns.
// transcript is read, never modified.
func (s *Service) Answer(ctx context.Context, text string, transcript []models.Turn, question string) (string, error) {
	req, err := s.catalog.Chat(ctx, text, models.FormatHistory(transcript), question)
	if err != nil {
		return "", err
	}
	return s.model.Generate(ctx, req)
}
