package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"ava-backend/internal/models"
)

const maxAudioUpload = 25 << 20

type chatService interface {
	Reply(ctx context.Context, req models.ChatRequest) (string, error)
	Summarize(ctx context.Context, req models.SummaryRequest) (string, error)
}

type speechService interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
	Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error)
}

type pageFetcher interface {
	Fetch(ctx context.Context, target string) (string, error)
}

// AssistHandler serves the stateless participant helpers: chat turns,
// single-session summaries, speech and the page proxy.
type AssistHandler struct {
	chat   chatService
	speech speechService
	proxy  pageFetcher
}

func NewAssistHandler(chat chatService, speech speechService, proxy pageFetcher) *AssistHandler {
	return &AssistHandler{chat: chat, speech: speech, proxy: proxy}
}

func (h *AssistHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Messages == nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Messages array is required", r))
		return
	}

	text, err := h.chat.Reply(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err, "Failed to generate response")
		return
	}
	writeJSON(w, http.StatusOK, models.ChatResponse{Text: text})
}

func (h *AssistHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var req models.SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	summary, err := h.chat.Summarize(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err, "Failed to generate summary")
		return
	}
	writeJSON(w, http.StatusOK, models.SummaryResponse{Summary: summary})
}

func (h *AssistHandler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Text is required", r))
		return
	}

	audio, mimeType, err := h.speech.Synthesize(r.Context(), req.Text)
	if err != nil {
		handleServiceError(w, r, err, "TTS generation failed")
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (h *AssistHandler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Audio file is required", r))
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Audio file is required", r))
		return
	}
	defer file.Close()

	text, err := h.speech.Transcribe(r.Context(), file, header.Header.Get("Content-Type"))
	if err != nil {
		handleServiceError(w, r, err, "Speech-to-text conversion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (h *AssistHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "URL parameter is required", r))
		return
	}

	html, err := h.proxy.Fetch(r.Context(), target)
	if err != nil {
		handleServiceError(w, r, err, "Failed to proxy request")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, html)
}

// LogEvent accepts a single event posted outside a live session and records
// it in the server log.
func (h *AssistHandler) LogEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.UserEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Event type is required", r))
		return
	}

	log.Info().
		Str("type", ev.Type).
		Int64("timestamp", ev.Timestamp).
		Int64("elapsed_ms", ev.ElapsedTime).
		Interface("data", ev.Data).
		Msg("user event")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
