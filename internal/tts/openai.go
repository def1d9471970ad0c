// Package tts holds the speech synthesizers behind the dialogue engine.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/voiceloop/internal/dialogue"
)

// OpenAI synthesizes MP3 with the OpenAI speech endpoint.
type OpenAI struct {
	api    *openai.Client
	apiKey string
	Model  string
	Voice  string
}

func NewOpenAI(apiKey, baseURL, model, voice string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAI{api: openai.NewClientWithConfig(cfg), apiKey: apiKey, Model: model, Voice: voice}
}

func (o *OpenAI) Synthesize(ctx context.Context, text string) (dialogue.Audio, error) {
	if o.apiKey == "" {
		return dialogue.Audio{}, fmt.Errorf("openai tts: api key missing")
	}
	resp, err := o.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return dialogue.Audio{}, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return dialogue.Audio{}, fmt.Errorf("openai tts: read: %w", err)
	}
	if len(data) == 0 {
		return dialogue.Audio{}, fmt.Errorf("openai tts: no audio received")
	}
	return dialogue.Audio{Data: data, MIME: "audio/mpeg"}, nil
}
