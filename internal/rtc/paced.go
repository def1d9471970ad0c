package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const frameDuration = 20 * time.Millisecond

var errWriterClosed = errors.New("rtc: paced writer closed")

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// OpusPacedWriter encodes 48kHz mono PCM to Opus and writes one frame per 20ms
// to the outbound track.
type OpusPacedWriter struct {
	enc          *opus.Encoder
	track        sampleWriter
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex

	queued int64  // frames handed to pushFrames and not yet written or dropped
	gen    uint64 // bumped by Reset; frames encoded before it are dropped
}

// NewOpusPacedWriter constructs a paced writer with 20ms frames at 48kHz mono.
func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &OpusPacedWriter{
		enc:          enc,
		track:        track,
		frameSamples: 960,
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers little endian PCM and queues every complete frame. It blocks
// while the queue is full.
func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	gen := atomic.LoadUint64(&w.gen)
	need := len(pcmBytes) / 2
	for i := 0; i < need; i++ {
		w.pcmBuf = append(w.pcmBuf, int16(uint16(pcmBytes[2*i])|uint16(pcmBytes[2*i+1])<<8))
	}
	var pkts [][]byte
	for len(w.pcmBuf) >= w.frameSamples {
		if pkt := w.encode(w.pcmBuf[:w.frameSamples]); pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcmBuf = w.pcmBuf[w.frameSamples:]
	}
	w.pcmBuf = append([]int16(nil), w.pcmBuf...)
	w.mu.Unlock()
	w.pushFrames(pkts, gen)
}

// FlushTail pads the remaining PCM to a full frame and adds ~200ms of silence so
// the end of the reply is not clipped.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	gen := atomic.LoadUint64(&w.gen)
	var pkts [][]byte
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, w.frameSamples)
		copy(pad, w.pcmBuf)
		if pkt := w.encode(pad); pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	silence := make([]int16, w.frameSamples)
	for i := 0; i < 10; i++ {
		if pkt := w.encode(silence); pkt != nil {
			pkts = append(pkts, pkt)
		}
	}
	w.mu.Unlock()
	w.pushFrames(pkts, gen)
}

func (w *OpusPacedWriter) encode(frame []int16) []byte {
	buf := make([]byte, 4000)
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n == 0 {
		return nil
	}
	return buf[:n]
}

// Drained waits until every queued frame has been written.
func (w *OpusPacedWriter) Drained(ctx context.Context) error {
	t := time.NewTicker(frameDuration)
	defer t.Stop()
	for {
		if atomic.LoadInt64(&w.queued) <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return errWriterClosed
		case <-t.C:
		}
	}
}

// Close stops the pacer.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
				atomic.AddInt64(&w.queued, -1)
			default:
			}
		}
	}
}

// pushFrames enqueues frames unless a Reset happened since they were encoded.
func (w *OpusPacedWriter) pushFrames(pkts [][]byte, gen uint64) {
	atomic.AddInt64(&w.queued, int64(len(pkts)))
	for i, pkt := range pkts {
		if atomic.LoadUint64(&w.gen) != gen {
			atomic.AddInt64(&w.queued, -int64(len(pkts)-i))
			return
		}
		select {
		case <-w.stopCh:
			atomic.AddInt64(&w.queued, -int64(len(pkts)-i))
			return
		case w.frames <- pkt:
		}
	}
}

// Reset drops queued audio for an immediate stop.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	atomic.AddUint64(&w.gen, 1)
	w.pcmBuf = w.pcmBuf[:0]
	for {
		select {
		case <-w.frames:
			atomic.AddInt64(&w.queued, -1)
		default:
			return
		}
	}
}
