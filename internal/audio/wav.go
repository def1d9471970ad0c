package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrNotWAV is returned by ParseWAV for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a wav container")

// EncodeWAV wraps PCM16 data in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * 2
	blockAlign := f.Channels * 2

	wav := make([]byte, wavHeaderSize+len(pcm))
	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+len(pcm)))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 1)
	binary.LittleEndian.PutUint16(wav[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], 16)
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(len(pcm)))
	copy(wav[wavHeaderSize:], pcm)
	return wav
}

// ParseWAV extracts the PCM16 payload and format of a WAV container. Chunks other
// than "fmt " and "data" are skipped.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return Format{}, nil, ErrNotWAV
	}
	var f Format
	var bits int
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return Format{}, nil, fmt.Errorf("audio: short fmt chunk (%d bytes)", end-body)
			}
			if tag := binary.LittleEndian.Uint16(data[body : body+2]); tag != 1 {
				return Format{}, nil, fmt.Errorf("audio: unsupported wav format tag %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			if f.SampleRate == 0 {
				return Format{}, nil, errors.New("audio: data chunk before fmt chunk")
			}
			if bits != 16 {
				return Format{}, nil, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			return f, data[body:end], nil
		}
		off = body + size + size%2
	}
	return Format{}, nil, errors.New("audio: wav has no data chunk")
}
