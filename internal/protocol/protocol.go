// Package protocol defines the JSON control messages exchanged with a voice
// client over a websocket or a WebRTC data channel, and the glue that maps them
// onto a turn controller.
package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceloop/internal/turn"
)

// Message types sent by the client.
const (
	TypeMicPress       = "mic.press"
	TypeStop           = "stop"
	TypeText           = "text"
	TypeCaptureStarted = "capture.started"
	TypeCaptureError   = "capture.error"
	TypeCaptureStopped = "capture.stopped"
	TypePlaybackEnded  = "playback.ended"
)

// Message types sent by the server.
const (
	TypeCaptureStart = "capture.start"
	TypeCaptureStop  = "capture.stop"
	TypePlay         = "play"
	TypePlayStop     = "play.stop"
	TypeState        = "state"
	TypeTranscript   = "transcript"
	TypeRecording    = "recording"
	TypeError        = "error"
	TypeEnd          = "end"
	TypeTextRejected = "text.rejected"
)

// Envelope is the single message shape in both directions. Fields irrelevant to
// a type are omitted.
type Envelope struct {
	Type string `json:"type"`

	CaptureID  uint64 `json:"captureId,omitempty"`
	PlaybackID uint64 `json:"playbackId,omitempty"`

	Text    string `json:"text,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Error   string `json:"error,omitempty"`

	MIME  string `json:"mime,omitempty"`
	Audio string `json:"audio,omitempty"` // base64

	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	VoiceMode  *bool  `json:"voiceMode,omitempty"`
	MicAllowed *bool  `json:"micAllowed,omitempty"`
	Recording  *bool  `json:"recording,omitempty"`
}

// ErrUnknownType is returned by Dispatch for messages it does not route.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Decode parses one client message.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: decode: missing type")
	}
	return e, nil
}

// Play builds a playback request.
func Play(id uint64, mime string, data []byte) Envelope {
	return Envelope{Type: TypePlay, PlaybackID: id, MIME: mime, Audio: base64.StdEncoding.EncodeToString(data)}
}

// FromEvent maps a controller event onto its wire message.
func FromEvent(ev turn.Event) (Envelope, bool) {
	switch ev := ev.(type) {
	case turn.StateEvent:
		return Envelope{
			Type:       TypeState,
			From:       ev.From.String(),
			To:         ev.To.String(),
			VoiceMode:  boolPtr(ev.Mode.VoiceModeEnabled),
			MicAllowed: boolPtr(ev.Mode.MicAllowed),
		}, true
	case turn.TranscriptEvent:
		return Envelope{Type: TypeTranscript, Speaker: string(ev.Entry.Speaker), Text: ev.Entry.Text}, true
	case turn.RecordingEvent:
		return Envelope{Type: TypeRecording, Recording: boolPtr(ev.Recording)}, true
	case turn.ErrorEvent:
		return Envelope{Type: TypeError, Error: ev.Err.Error()}, true
	case turn.EndEvent:
		return Envelope{Type: TypeEnd}, true
	}
	return Envelope{}, false
}

func boolPtr(b bool) *bool { return &b }

// Controller is the subset of turn.Controller driven by client messages.
type Controller interface {
	PressMic()
	Stop()
	SubmitText(ctx context.Context, text string) error
}

// Dispatch routes a user command to ctl. Typed text is submitted asynchronously
// and a rejection is reported through send.
func Dispatch(ctx context.Context, ctl Controller, e Envelope, send func(Envelope) error) error {
	switch e.Type {
	case TypeMicPress:
		ctl.PressMic()
	case TypeStop:
		ctl.Stop()
	case TypeText:
		text := e.Text
		go func() {
			if err := ctl.SubmitText(ctx, text); err != nil && ctx.Err() == nil {
				_ = send(Envelope{Type: TypeTextRejected, Text: text, Error: err.Error()})
			}
		}()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// Relay forwards controller events through send until events closes or ctx ends.
func Relay(ctx context.Context, events <-chan turn.Event, send func(Envelope) error, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, ok := FromEvent(ev)
			if !ok {
				continue
			}
			if err := send(msg); err != nil {
				logger.Debug().Err(err).Str("type", msg.Type).Msg("relay send failed")
			}
		}
	}
}
