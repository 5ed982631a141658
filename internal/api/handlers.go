package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexbrief/internal/extract"
	"lexbrief/internal/llm"
	"lexbrief/internal/logger"
	"lexbrief/internal/models"
	"lexbrief/internal/prompt"
	"lexbrief/internal/service/documents"
	"lexbrief/internal/session"
	"lexbrief/internal/worker"
)

const (
	msgNoFilePart    = "No file part provided"
	msgNoSelected    = "No selected file"
	msgEmptyText     = "Could not extract text from the document. The file might be empty, corrupted, or an image-based PDF requiring OCR."
	msgInvalidJSON   = "Invalid JSON data"
	msgMissingFields = "Missing question or doc_id"
	msgNotFound      = "Document session not found. Please upload again."
	msgBusy          = "server is busy, please retry"

	opProcessing = "An error occurred during processing"
	opChat       = "An error occurred during chat"

	defaultMaxUploadBytes = 16 << 20
)

// DocumentService is what the handlers need from the documents service.
type DocumentService interface {
	Process(ctx context.Context, up documents.Upload) (*models.DocumentSession, error)
	Chat(ctx context.Context, id, question string) (string, error)
	Get(ctx context.Context, id string) (*models.DocumentSession, error)
}

// Handler wires HTTP routes to the documents service.
type Handler struct {
	docs           DocumentService
	maxUploadBytes int64
	log            *zap.Logger
}

// NewHandler constructs a Handler. maxUploadBytes <= 0 uses 16 MiB.
func NewHandler(docs DocumentService, maxUploadBytes int64, log *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{docs: docs, maxUploadBytes: maxUploadBytes, log: logger.OrGlobal(log)}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	api := router.Group("/api")
	api.POST("/upload", h.upload)
	api.POST("/chat", h.chat)
	api.GET("/documents/:id", h.getDocument)
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = logger.OrGlobal(log)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("client", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) upload(c *gin.Context) {
	// multipart framing needs a little room beyond the file itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	if err := c.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFilePart})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		// a part named "file" without a filename arrives as a plain value
		if form := c.Request.MultipartForm; form != nil && len(form.Value["file"]) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgNoSelected})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFilePart})
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoSelected})
		return
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()

	doc, err := h.docs.Process(c.Request.Context(), documents.Upload{
		FileName:  file.Filename,
		Language:  c.DefaultPostForm("language", documents.DefaultLanguage),
		Body:      f,
		ClientKey: c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, opProcessing, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":            doc.Summary,
		"translated_summary": doc.TranslatedSummary,
		"language":           doc.Language,
		"doc_id":             doc.ID,
	})
}

type chatRequest struct {
	Question string `json:"question"`
	DocID    string `json:"doc_id"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidJSON})
		return
	}
	if req.Question == "" || req.DocID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingFields})
		return
	}
	answer, err := h.docs.Chat(c.Request.Context(), req.DocID, req.Question)
	if err != nil {
		h.writeError(c, opChat, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

type documentView struct {
	ID                string        `json:"doc_id"`
	FileName          string        `json:"file_name"`
	Task              string        `json:"task"`
	Summary           string        `json:"summary"`
	TranslatedSummary string        `json:"translated_summary"`
	Language          string        `json:"language"`
	Transcript        []models.Turn `json:"transcript"`
	CreatedAt         time.Time     `json:"created_at"`
	ExpiresAt         time.Time     `json:"expires_at"`
}

func (h *Handler) getDocument(c *gin.Context) {
	doc, err := h.docs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, opProcessing, err)
		return
	}
	transcript := doc.Transcript
	if transcript == nil {
		transcript = []models.Turn{}
	}
	c.JSON(http.StatusOK, documentView{
		ID:                doc.ID,
		FileName:          doc.FileName,
		Task:              doc.Task,
		Summary:           doc.Summary,
		TranslatedSummary: doc.TranslatedSummary,
		Language:          doc.Language,
		Transcript:        transcript,
		CreatedAt:         doc.CreatedAt,
		ExpiresAt:         doc.ExpiresAt,
	})
}

// writeError maps service errors to status codes. Server-side failures reach the
// client as a fixed description; the underlying error is only logged.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	var (
		validation  *documents.ValidationError
		unsupported *extract.UnsupportedFormatError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message})
	case errors.As(err, &unsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": unsupported.Error()})
	case errors.Is(err, extract.ErrEmptyExtraction):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgEmptyText})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": msgBusy})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + ": " + failureReason(err)})
	}
}

func failureReason(err error) string {
	var (
		remote     *llm.RemoteModelError
		unknown    *prompt.UnknownTaskError
		extraction *extract.ExtractionError
	)
	switch {
	case errors.As(err, &remote):
		switch {
		case remote.Exhausted:
			return "the language model is rate limited, please retry later"
		case remote.StatusCode != 0:
			return fmt.Sprintf("the language model request failed with status %d", remote.StatusCode)
		default:
			return "the language model could not be reached"
		}
	case errors.As(err, &unknown):
		return "the document type could not be determined"
	case errors.As(err, &extraction):
		return "text could not be extracted from the document"
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	case errors.Is(err, context.Canceled):
		return "the request was cancelled"
	default:
		return "internal error"
	}
}
