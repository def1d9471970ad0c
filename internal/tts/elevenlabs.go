package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/voiceloop/internal/dialogue"
)

// ElevenLabs synthesizes MP3 through the HTTP streaming endpoint.
type ElevenLabs struct {
	APIKey  string
	VoiceID string
	Model   string
	// BaseURL defaults to https://api.elevenlabs.io.
	BaseURL    string
	HTTPClient *http.Client
}

func NewElevenLabs(apiKey, voiceID string) *ElevenLabs {
	return &ElevenLabs{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		Model:      "eleven_flash_v2_5",
		BaseURL:    "https://api.elevenlabs.io",
		HTTPClient: &http.Client{},
	}
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (dialogue.Audio, error) {
	chunks, errs := e.Stream(ctx, text)
	data, err := collect(ctx, chunks, errs)
	if err != nil {
		return dialogue.Audio{}, err
	}
	if len(data) == 0 {
		return dialogue.Audio{}, fmt.Errorf("elevenlabs: no audio received")
	}
	return dialogue.Audio{Data: data, MIME: "audio/mpeg"}, nil
}

// Stream delivers MP3 chunks as they arrive.
func (e *ElevenLabs) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if err := e.httpStream(ctx, text, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

func (e *ElevenLabs) httpStream(ctx context.Context, text string, out chan<- []byte) error {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return fmt.Errorf("elevenlabs: base url: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + url.PathEscape(e.VoiceID) + "/stream"
	q := u.Query()
	q.Set("output_format", "mp3_44100_128")
	// 0..4, lower trades quality for latency
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": e.Model,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.5,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: http stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	logged := false
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if !logged {
				log.Debug().Int("bytes", n).Msg("elevenlabs: receiving audio stream")
				logged = true
			}
			b := make([]byte, n)
			copy(b, chunk[:n])
			select {
			case out <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", rerr)
		}
	}
}
