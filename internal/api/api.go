// Package api exposes the assistant and the ingestion pipeline over HTTP.
// It is a thin translation layer: all semantics live in the assistant, rag,
// and ingest packages.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagekb/sage/internal/assistant"
	"github.com/sagekb/sage/internal/ingest"
	"github.com/sagekb/sage/internal/parser"
	"github.com/sagekb/sage/internal/rag"
	"github.com/sagekb/sage/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB

// Deps holds what the HTTP layer needs. Search carries the configured
// retrieval defaults, used when a request leaves the bounds unset.
type Deps struct {
	Assistant *assistant.Assistant
	Pipeline  *ingest.Pipeline
	Token     string
	Search    rag.SearchOptions
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/ask", handleAsk(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	UserID         string  `json:"user_id"`
	SectorID       string  `json:"sector_id"`
	Query          string  `json:"query"`
	ConversationID string  `json:"conversation_id,omitempty"`
	MaxResults     int     `json:"max_results,omitempty"`
	MinSimilarity  float32 `json:"min_similarity,omitempty"`
	Structured     bool    `json:"structured,omitempty"`
}

// AskResponse is the body returned by POST /ask.
type AskResponse struct {
	ConversationID string          `json:"conversation_id"`
	Response       string          `json:"response"`
	Type           string          `json:"type"`
	Sources        []SourcePayload `json:"sources"`
	Sections       []rag.Section   `json:"sections,omitempty"`
	Evaluation     *rag.Evaluation `json:"evaluation,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SourcePayload is one retrieved fragment in API form.
type SourcePayload struct {
	FragmentID string            `json:"fragment_id"`
	SourceID   string            `json:"source_id"`
	Content    string            `json:"content"`
	Similarity float32           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		opts := rag.SearchOptions{
			MaxResults:    req.MaxResults,
			MinSimilarity: req.MinSimilarity,
			Structured:    req.Structured,
		}
		if opts.MaxResults <= 0 {
			opts.MaxResults = deps.Search.MaxResults
		}
		if opts.MinSimilarity <= 0 {
			opts.MinSimilarity = deps.Search.MinSimilarity
		}
		uc := assistant.UserContext{UserID: req.UserID, SectorID: req.SectorID}

		out, err := deps.Assistant.Execute(r.Context(), uc, req.Query, req.ConversationID, opts)
		if err != nil {
			switch {
			case errors.Is(err, assistant.ErrValidation):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			case errors.Is(err, storage.ErrNotFound):
				httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			default:
				httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			}
			return
		}

		sources := make([]SourcePayload, len(out.Sources))
		for i, s := range out.Sources {
			sources[i] = SourcePayload{
				FragmentID: s.FragmentID,
				SourceID:   s.SourceID,
				Content:    s.Content,
				Similarity: s.Similarity,
				Metadata:   s.Metadata,
			}
		}

		writeJSON(w, http.StatusOK, AskResponse{
			ConversationID: out.ConversationID,
			Response:       out.Response,
			Type:           string(out.Type),
			Sources:        sources,
			Sections:       out.Sections,
			Evaluation:     out.Evaluation,
			CreatedAt:      out.CreatedAt,
		})
	}
}

// IngestRequest is the body of POST /ingest. Content is base64 for binary
// formats (pdf) and plain text otherwise.
type IngestRequest struct {
	Documents []IngestDocument `json:"documents"`
}

// IngestDocument is one document in an ingestion batch.
type IngestDocument struct {
	Title    string `json:"title"`
	SectorID string `json:"sector_id"`
	Format   string `json:"format"`
	Content  string `json:"content"`
}

// IngestResult is the per-document outcome.
type IngestResult struct {
	Title      string `json:"title"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	PageCount  int    `json:"page_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents is required and must not be empty")
			return
		}

		docs := make([]ingest.Document, 0, len(req.Documents))
		for i, d := range req.Documents {
			if d.SectorID == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "documents[%d]: sector_id is required", i)
				return
			}
			data, err := decodeContent(d)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "documents[%d]: %v", i, err)
				return
			}
			docs = append(docs, ingest.Document{
				Title:    d.Title,
				SectorID: d.SectorID,
				Format:   parser.Format(d.Format),
				Data:     data,
			})
		}

		results := deps.Pipeline.IngestAll(r.Context(), docs)

		out := make([]IngestResult, len(results))
		for i, res := range results {
			out[i] = IngestResult{
				Title:      res.Title,
				DocumentID: res.DocumentID,
				ChunkCount: res.ChunkCount,
				PageCount:  res.PageCount,
			}
			if res.Err != nil {
				out[i].Error = res.Err.Error()
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

// ConversationPayload is the read-only view of a conversation.
type ConversationPayload struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	SectorID  string           `json:"sector_id"`
	Messages  []MessagePayload `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// MessagePayload is one message in API form.
type MessagePayload struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		conv, err := deps.Assistant.GetConversation(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "conversation %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		msgs := make([]MessagePayload, len(conv.Messages))
		for i, m := range conv.Messages {
			msgs[i] = MessagePayload{
				ID:        m.ID,
				Role:      string(m.Role),
				Content:   m.Content,
				Metadata:  m.Metadata,
				CreatedAt: m.CreatedAt,
			}
		}
		writeJSON(w, http.StatusOK, ConversationPayload{
			ID:        conv.ID,
			UserID:    conv.UserID,
			SectorID:  conv.SectorID,
			Messages:  msgs,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Assistant.DeleteConversation(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "conversation %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// decodeContent resolves a document's payload bytes. PDF content travels
// base64-encoded; text formats are taken verbatim.
func decodeContent(d IngestDocument) ([]byte, error) {
	if parser.Format(d.Format) == parser.FormatPDF {
		data, err := base64.StdEncoding.DecodeString(d.Content)
		if err != nil {
			return nil, fmt.Errorf("content must be base64 for pdf: %w", err)
		}
		return data, nil
	}
	return []byte(d.Content), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
