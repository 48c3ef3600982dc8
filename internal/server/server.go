package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

const (
	pdfContentType = "application/pdf"
	uploadField    = "file"

	// multipart parts above this size spill to temp files
	multipartMemory = 8 << 20

	defaultListLimit = 50

	maxChatBody = 1 << 20
)

// Pipeline is what the handlers need from rag.Pipeline.
type Pipeline interface {
	Ingest(ctx context.Context, data []byte, filename string) (*models.UploadResponse, error)
	Answer(ctx context.Context, req models.QuestionRequest) (*models.AnswerResponse, error)
}

// Lister returns indexed uploads, newest first.
type Lister interface {
	List(ctx context.Context, limit int) ([]models.DocumentRecord, error)
}

type Server struct {
	pipeline  Pipeline
	documents Lister
	maxUpload int64
}

// New builds the HTTP server. documents may be nil, in which case GET /documents
// answers 404.
func New(pipeline Pipeline, documents Lister, maxUploadMB int) *Server {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Server{
		pipeline:  pipeline,
		documents: documents,
		maxUpload: int64(maxUploadMB) << 20,
	}
}

// Router returns the chi router with the middleware chain and every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(metrics.Middleware())

	r.Get("/health", s.Health)
	r.Post("/upload", s.Upload)
	r.Post("/chat", s.Chat)
	r.Get("/documents", s.ListDocuments)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Upload handles POST /upload. The part's content type is checked before its body is read.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Upload exceeds the limit of %d MB.", s.maxUpload>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart request: "+err.Error())
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to remove multipart temp files")
		}
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing form field \"file\".")
		return
	}
	defer file.Close()

	if !isPDF(header.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "Only PDF files are supported.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload: "+err.Error())
		return
	}

	resp, err := s.pipeline.Ingest(r.Context(), data, header.Filename)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	Question string `json:"question"`
	TopK     *int   `json:"top_k"`
}

// Chat handles POST /chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds the limit of %d bytes.", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "Question must not be empty.")
		return
	}
	topK := models.DefaultTopK
	if req.TopK != nil {
		if *req.TopK < 1 {
			writeError(w, http.StatusBadRequest, "top_k must be at least 1.")
			return
		}
		topK = *req.TopK
	}

	resp, err := s.pipeline.Answer(r.Context(), models.QuestionRequest{Question: req.Question, TopK: topK})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDocuments handles GET /documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	if s.documents == nil {
		writeError(w, http.StatusNotFound, "Document registry is not configured.")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = n
	}

	docs, err := s.documents.List(r.Context(), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if docs == nil {
		docs = []models.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func isPDF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == pdfContentType
}

// handleError maps pipeline errors to a status. Provider and input errors carry their
// message; anything else is reported as an internal error.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.Ctx(r.Context())
	switch {
	case errors.Is(err, models.ErrInput):
		logger.Warn().Err(err).Msg("Rejected request")
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrEmbedding), errors.Is(err, models.ErrGeneration):
		logger.Error().Err(err).Msg("Provider call failed")
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
