// Package capture records a single utterance from a microphone stream into one clip.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/chadiek/voiceloop/internal/audio"
	"github.com/chadiek/voiceloop/internal/vad"
)

// MinClipBytes is the smallest clip worth sending for transcription. Anything
// shorter is almost always a click or breath.
const MinClipBytes = 2000

// MIMEPCM marks a stream of raw PCM16 chunks; clips from it are wrapped as WAV.
const MIMEPCM = "audio/pcm"

// ErrAlreadyRecording is returned by Start while a recording is live.
var ErrAlreadyRecording = errors.New("capture: already recording")

// DeviceError reports that the microphone could not be opened.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: device %s unavailable: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Format describes the chunks a stream produces.
type Format struct {
	MIME  string
	Audio audio.Format
}

// Stream is an open microphone.
type Stream interface {
	// Chunks delivers encoded audio in order. The device closes it once it has
	// acknowledged Stop and flushed its last chunk.
	Chunks() <-chan []byte
	// Stop asks the device to stop; the acknowledgment is the close of Chunks.
	Stop()
	Format() Format
	// Analyser is a live tap for the amplitude monitor.
	Analyser() vad.Source
}

// Device opens microphone streams. Open blocks until the device is granted.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Clip is a finalized utterance.
type Clip struct {
	Data []byte
	MIME string
}

// Size returns the clip length in bytes; a nil clip has size zero.
func (c *Clip) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}

// Viable reports whether the clip reaches min bytes.
func (c *Clip) Viable(min int) bool { return c.Size() >= min }

// Filename suggests an upload name matching the clip container.
func (c *Clip) Filename() string {
	switch c.MIME {
	case "audio/wav":
		return "audio.wav"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mpeg":
		return "audio.mp3"
	default:
		return "audio.webm"
	}
}
