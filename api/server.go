package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avidal-labs/docintel/agent"
	"github.com/avidal-labs/docintel/database"
	"github.com/avidal-labs/docintel/index"
	"github.com/avidal-labs/docintel/ingestion"
)

// Server exposes HTTP handlers for chat, ingestion and document management.
type Server struct {
	controller *agent.Controller
	ingest     *ingestion.Service
	docs       *database.DocumentStore
	index      *index.HybridIndex
	logger     *log.Logger
	handler    http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Answer    string       `json:"answer"`
	SessionID string       `json:"session_id"`
	ElapsedMS int64        `json:"elapsed_ms"`
	Sources   []chatSource `json:"sources"`
}

type chatSource struct {
	DocumentID  string  `json:"document_id"`
	Document    string  `json:"document"`
	ContentType string  `json:"content_type"`
	Page        int     `json:"page"`
	Preview     string  `json:"preview"`
	Score       float64 `json:"score"`
	SearchType  string  `json:"search_type"`
}

type ingestRequest struct {
	Dir  string `json:"dir"`
	Path string `json:"path"`
}

type ingestResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Error      string `json:"error,omitempty"`
}

type documentResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SourcePath string    `json:"source_path"`
	Status     string    `json:"status"`
	PageCount  int       `json:"page_count"`
	ChunkCount int       `json:"chunk_count"`
	Language   string    `json:"language,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type statsResponse struct {
	TotalChunks      uint64 `json:"total_chunks"`
	VectorDimension  uint64 `json:"vector_dimension"`
	DistanceMetric   string `json:"distance_metric"`
	SparseConfigured bool   `json:"sparse_configured"`
}

func New(controller *agent.Controller, ingest *ingestion.Service, docs *database.DocumentStore, idx *index.HybridIndex, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{controller: controller, ingest: ingest, docs: docs, index: idx, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	mux.HandleFunc("/v1/documents/", s.handleDocument)
	mux.HandleFunc("/v1/stats", s.handleStats)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	answer := s.controller.Ask(r.Context(), req.Question, req.SessionID)

	resp := chatResponse{
		Answer:    answer.Text,
		SessionID: answer.SessionID,
		ElapsedMS: answer.Elapsed.Milliseconds(),
		Sources:   make([]chatSource, 0, len(answer.Sources)),
	}
	for _, src := range answer.Sources {
		resp.Sources = append(resp.Sources, chatSource{
			DocumentID:  src.DocumentID,
			Document:    src.SourceDocument,
			ContentType: src.ContentType,
			Page:        src.PageNumber,
			Preview:     src.ContentPreview,
			Score:       src.RelevanceScore,
			SearchType:  src.SearchType,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	ctx := r.Context()

	var results []ingestion.Result
	switch {
	case strings.TrimSpace(req.Path) != "":
		res, err := s.ingest.IngestFile(ctx, req.Path)
		if err != nil {
			res.Err = err
		}
		results = []ingestion.Result{res}
	case strings.TrimSpace(req.Dir) != "":
		var err error
		results, err = s.ingest.IngestDirectory(ctx, req.Dir)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
			return
		}
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("dir or path is required"))
		return
	}

	out := make([]ingestResult, 0, len(results))
	for _, res := range results {
		item := ingestResult{
			DocumentID: res.DocumentID,
			Filename:   res.Filename,
			Pages:      res.Pages,
			Chunks:     res.Chunks,
			ElapsedMS:  res.Elapsed.Milliseconds(),
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.docs == nil {
		s.writeError(w, http.StatusNotImplemented, fmt.Errorf("document metadata store not configured"))
		return
	}

	docs, err := s.docs.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentResponse{
			ID:         doc.ID,
			Filename:   doc.Filename,
			SourcePath: doc.SourcePath,
			Status:     doc.Status,
			PageCount:  doc.PageCount,
			ChunkCount: doc.ChunkCount,
			Language:   doc.Language,
			Error:      doc.ErrorMessage,
			CreatedAt:  doc.CreatedAt,
			UpdatedAt:  doc.UpdatedAt,
		})
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, http.MethodDelete)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("document id is required"))
		return
	}

	if err := s.ingest.DeleteDocument(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "document deleted"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	stats, err := s.index.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("collection stats: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		TotalChunks:      stats.TotalChunks,
		VectorDimension:  stats.VectorDimension,
		DistanceMetric:   stats.DistanceMetric,
		SparseConfigured: stats.SparseConfigured,
	})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
