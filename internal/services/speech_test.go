package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeechMockMode(t *testing.T) {
	s := NewSpeechService("", "voice", "model")

	audio, mime, err := s.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Mock audio data", string(audio))
	assert.Equal(t, AudioMPEG, mime)

	_, err = s.Transcribe(context.Background(), strings.NewReader("x"), "")
	assert.True(t, errors.Is(err, ErrCollaboratorUnavailable))
}

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))

		var body struct {
			Text    string `json:"text"`
			ModelID string `json:"model_id"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		assert.Equal(t, "Hi there", body.Text)
		assert.Equal(t, "eleven_turbo_v2", body.ModelID)

		w.Header().Set("Content-Type", AudioMPEG)
		w.Write([]byte{0xff, 0xfb})
	}))
	defer srv.Close()

	s := NewSpeechService("secret", "voice-1", "eleven_turbo_v2")
	s.baseURL = srv.URL

	audio, mime, err := s.Synthesize(context.Background(), "Hi there")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfb}, audio)
	assert.Equal(t, AudioMPEG, mime)
}

func TestSynthesizeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	s := NewSpeechService("secret", "v", "m")
	s.baseURL = srv.URL

	_, _, err := s.Synthesize(context.Background(), "Hi")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusPaymentRequired, upstream.Status)
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/speech-to-text", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "scribe_v1", r.FormValue("model_id"))
		assert.Equal(t, "eng", r.FormValue("language_code"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "audio.webm", hdr.Filename)
		assert.Equal(t, "voice-bytes", string(data))

		w.Write([]byte(`{"text":"the menu is confusing","language_code":"eng"}`))
	}))
	defer srv.Close()

	s := NewSpeechService("secret", "v", "m")
	s.baseURL = srv.URL

	text, err := s.Transcribe(context.Background(), strings.NewReader("voice-bytes"), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "the menu is confusing", text)
}
