package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/internal/chat"
	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/rag"
)

const maxBodyBytes = 8 << 20

type errorBody struct {
	Error string `json:"error"`
}

// IngestBody is the payload of POST /documents/{id}/ingest
type IngestBody struct {
	Text     string `json:"text"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// IngestResponse reports a completed ingestion
type IngestResponse struct {
	DocumentID    string `json:"documentId"`
	ChunksCreated int    `json:"chunksCreated"`
}

type messagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req chat.QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.svc.Query(ctx, p, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", rag.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := rag.NewEncoder(w)
	outcome := "cancelled"
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			s.logger.Debug("client went away", zap.Error(err))
			cancel()
			continue
		}
		switch ev.(type) {
		case rag.DoneEvent:
			outcome = "done"
		case rag.ErrorEvent:
			outcome = "error"
		}
	}
	s.metrics.streams.WithLabelValues(outcome).Inc()
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	msgs, err := s.svc.History(r.Context(), p, r.URL.Query().Get("conversationId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "document id must be a UUID"})
		return
	}
	var body IngestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	res, err := s.svc.Ingest(r.Context(), p, documents.IngestRequest{
		DocumentID: id,
		RawText:    body.Text,
		FileName:   body.FileName,
		FileType:   body.FileType,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ingestedChunks.Add(float64(res.ChunksCreated))
	writeJSON(w, http.StatusOK, IngestResponse{DocumentID: res.DocumentID.String(), ChunksCreated: res.ChunksCreated})
}

// writeError maps a service error onto a status code and JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var rl *domain.RateLimitError
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.As(err, &rl):
		s.metrics.rateLimited.WithLabelValues(rl.Operation).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
		status, msg = http.StatusTooManyRequests, err.Error()
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrNoChunksProduced):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrConversationNotFound), errors.Is(err, domain.ErrDocumentNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrQuotaExceeded), errors.Is(err, domain.ErrAuthorization):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrEmbeddingService):
		status, msg = http.StatusBadGateway, "embedding service unavailable"
	case errors.Is(err, domain.ErrModelService):
		status, msg = http.StatusBadGateway, "language model unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func retryAfterSeconds(d time.Duration) int {
	n := int(math.Ceil(d.Seconds()))
	if n < 1 {
		n = 1
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
