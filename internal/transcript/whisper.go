// Package transcript converts finished utterance clips into text.
package transcript

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/voiceloop/internal/capture"
)

// Whisper transcribes clips through the OpenAI audio transcription endpoint.
type Whisper struct {
	api      *openai.Client
	apiKey   string
	Model    string
	Language string
	// MinClipBytes clips below this size are answered with "" without a request.
	MinClipBytes int
}

func NewWhisper(apiKey, baseURL, model string) *Whisper {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{
		api:          openai.NewClientWithConfig(cfg),
		apiKey:       apiKey,
		Model:        model,
		Language:     "en",
		MinClipBytes: capture.MinClipBytes,
	}
}

// Transcribe returns the trimmed text of clip, or "" when the clip is too small
// to hold speech.
func (w *Whisper) Transcribe(ctx context.Context, clip *capture.Clip) (string, error) {
	if !clip.Viable(w.MinClipBytes) {
		log.Debug().Int("bytes", clip.Size()).Msg("transcript: clip below floor, skipping")
		return "", nil
	}
	if w.apiKey == "" {
		return "", fmt.Errorf("transcript: api key missing")
	}
	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: clip.Filename(),
		Reader:   bytes.NewReader(clip.Data),
		Language: w.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcript: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
