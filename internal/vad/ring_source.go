package vad

import "github.com/chadiek/voiceloop/internal/audio"

// RingSource taps an audio.Ring that a transport fills with byte-domain samples.
type RingSource struct {
	Ring *audio.Ring
}

func (s RingSource) Snapshot(dst []byte) { s.Ring.ReadLast(dst, 128) }

func (s RingSource) Release() { s.Ring.Reset() }
