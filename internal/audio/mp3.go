package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into mono PCM16 at target sample rate.
// go-mp3 always yields interleaved stereo.
func DecodeMP3(data []byte, target int) ([]byte, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3 decoder: %w", err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	mono := Downmix(DecodePCM16LE(raw), 2)
	return EncodePCM16LE(Resample(mono, d.SampleRate(), target)), nil
}

// ToPCM converts a synthesized clip into mono PCM16 at target rate. WAV and MP3
// containers are recognised; anything else is assumed to already be raw PCM at target.
func ToPCM(data []byte, mime string, target int) ([]byte, error) {
	switch {
	case mime == "audio/wav" || bytes.HasPrefix(data, []byte("RIFF")):
		f, pcm, err := ParseWAV(data)
		if err != nil {
			return nil, err
		}
		mono := Downmix(DecodePCM16LE(pcm), f.Channels)
		return EncodePCM16LE(Resample(mono, f.SampleRate, target)), nil
	case mime == "audio/mpeg":
		return DecodeMP3(data, target)
	default:
		return data, nil
	}
}
