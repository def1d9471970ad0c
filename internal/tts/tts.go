package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/chadiek/voiceloop/internal/dialogue"
)

// Settings selects and configures a synthesizer.
type Settings struct {
	Provider string // openai, elevenlabs, deepgram

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIVoice   string

	ElevenLabsKey     string
	ElevenLabsVoiceID string

	DeepgramKey   string
	DeepgramModel string
}

// New returns the synthesizer for s.Provider.
func New(s Settings) (dialogue.Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", "openai":
		return NewOpenAI(s.OpenAIKey, s.OpenAIBaseURL, s.OpenAIModel, s.OpenAIVoice), nil
	case "elevenlabs":
		return NewElevenLabs(s.ElevenLabsKey, s.ElevenLabsVoiceID), nil
	case "deepgram":
		return NewDeepgram(s.DeepgramKey, s.DeepgramModel), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", s.Provider)
	}
}

// collect drains a chunk stream into one buffer.
func collect(ctx context.Context, chunks <-chan []byte, errs <-chan error) ([]byte, error) {
	var buf []byte
	for chunks != nil || errs != nil {
		select {
		case b, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			buf = append(buf, b...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return buf, nil
}
