package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"
	sttModelID        = "scribe_v1"
	AudioMPEG         = "audio/mpeg"
)

// MockAudio is returned by Synthesize when no speech credentials are set.
var MockAudio = []byte("Mock audio data")

// SpeechService converts text to speech and speech to text with ElevenLabs.
// Without an API key it runs in mock mode: synthesis returns placeholder bytes
// and transcription reports ErrCollaboratorUnavailable.
type SpeechService struct {
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	httpClient *http.Client
	mockMode   bool
}

func NewSpeechService(apiKey, voiceID, modelID string) *SpeechService {
	mockMode := apiKey == ""
	if mockMode {
		log.Warn().Msg("ELEVENLABS_API_KEY not set, speech synthesis runs in mock mode")
	}
	return &SpeechService{
		apiKey:     apiKey,
		voiceID:    voiceID,
		modelID:    modelID,
		baseURL:    elevenLabsBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		mockMode:   mockMode,
	}
}

// Synthesize renders text as MPEG audio.
func (s *SpeechService) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if s.mockMode {
		return MockAudio, AudioMPEG, nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": s.modelID,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/text-to-speech/%s", s.baseURL, s.voiceID), bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", AudioMPEG)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("text-to-speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", &UpstreamError{Service: "elevenlabs tts", Status: resp.StatusCode, Body: string(msg)}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read tts audio: %w", err)
	}
	return audio, AudioMPEG, nil
}

// Transcribe converts recorded speech to text.
func (s *SpeechService) Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error) {
	if s.mockMode {
		return "", fmt.Errorf("%w: ELEVENLABS_API_KEY not configured", ErrCollaboratorUnavailable)
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.webm"`)
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	fields := map[string]string{
		"model_id":         sttModelID,
		"language_code":    "eng",
		"tag_audio_events": "false",
		"diarize":          "false",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/speech-to-text", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech-to-text request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &UpstreamError{Service: "elevenlabs stt", Status: resp.StatusCode, Body: string(msg)}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	if result.Text == "" {
		log.Warn().Msg("speech-to-text returned no text")
	}
	return result.Text, nil
}
