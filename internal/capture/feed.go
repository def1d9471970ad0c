package capture

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/voiceloop/internal/audio"
	"github.com/chadiek/voiceloop/internal/vad"
)

const feedBacklog = 512

// Feed is a Stream whose chunks are pushed by a network transport. Raw PCM
// chunks are also mirrored into an analysis ring for the amplitude monitor.
type Feed struct {
	format Format
	ring   *audio.Ring
	chunks chan []byte
	onStop func()

	mu      sync.Mutex
	stopped bool
	closed  bool
}

// NewFeed creates a feed. onStop runs once when Stop is called and is expected to
// lead to Ack, possibly asynchronously.
func NewFeed(f Format, analysisSize int, onStop func()) *Feed {
	return &Feed{
		format: f,
		ring:   audio.NewRing(analysisSize),
		chunks: make(chan []byte, feedBacklog),
		onStop: onStop,
	}
}

// Push appends a chunk. It reports false once the feed has been acknowledged.
func (f *Feed) Push(chunk []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.format.MIME == MIMEPCM {
		f.ring.Write(audio.ToByteDomain(chunk))
	}
	select {
	case f.chunks <- chunk:
	default:
		log.Warn().Int("bytes", len(chunk)).Msg("capture feed backlog full, dropping chunk")
	}
	return true
}

// Ack marks the device stop as acknowledged and closes Chunks. Idempotent.
func (f *Feed) Ack() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.chunks)
}

func (f *Feed) Chunks() <-chan []byte { return f.chunks }

func (f *Feed) Format() Format { return f.format }

func (f *Feed) Analyser() vad.Source { return vad.RingSource{Ring: f.ring} }

// Stop requests the stop from the device; chunks keep flowing until Ack.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	onStop := f.onStop
	f.mu.Unlock()
	if onStop != nil {
		onStop()
	}
}
