package server

import (
	"AssistantRelay/internal/ai"
	"AssistantRelay/internal/service/relay"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const missingCredentials = "Missing OpenAI credentials"

type imageResponse struct {
	ImageURL string `json:"imageUrl"`
}

type chatRequest struct {
	Messages []ai.ChatMessage `json:"messages"`
}

// handleAssistant POST /api/assistant: одна реплика диалога с ассистентом.
func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	if s.creds.APIKey == "" || s.creds.AssistantID == "" {
		s.writeError(w, r, ai.Configuration(missingCredentials))
		return
	}
	var turn relay.Turn
	if !s.decode(w, r, &turn) {
		return
	}
	resp, err := s.deps.Relay.Handle(r.Context(), turn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGenerateImage POST /api/generate-image: генерация картинки без ассистента.
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if s.creds.APIKey == "" {
		s.writeError(w, r, ai.Configuration(missingCredentials))
		return
	}
	var req relay.ImageRequest
	if !s.decode(w, r, &req) {
		return
	}
	url, err := s.deps.Relay.GenerateImage(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, imageResponse{ImageURL: url})
}

// handleImage GET /api/image?fileId=: отдаёт файл OpenAI как есть, с кэшированием на клиенте.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimSpace(r.URL.Query().Get("fileId"))
	if fileID == "" {
		s.writeError(w, r, ai.Validation("fileId is required"))
		return
	}
	if s.creds.APIKey == "" {
		s.writeError(w, r, ai.Configuration(missingCredentials))
		return
	}
	if s.deps.Files == nil {
		s.writeError(w, r, ai.Configuration("Image proxy is not available"))
		return
	}
	data, contentType, err := s.deps.Files.FileContent(r.Context(), fileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", contentType)
	hdr.Set("Content-Length", strconv.Itoa(len(data)))
	if s.cfg.ImageCacheSeconds > 0 {
		hdr.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", s.cfg.ImageCacheSeconds))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warnw("Failed to write image", "requestId", requestID(r.Context()), "fileId", fileID, "error", err)
	}
}

// handleChat POST /api/chat: обычный чат без thread, ответ модели возвращается как есть.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.creds.APIKey == "" {
		s.writeError(w, r, ai.Configuration(missingCredentials))
		return
	}
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.deps.Chat == nil {
		s.writeError(w, r, ai.Configuration("Chat is not available"))
		return
	}
	resp, err := s.deps.Chat.Complete(r.Context(), req.Messages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw := resp.RawJSON(); raw != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(raw))
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
