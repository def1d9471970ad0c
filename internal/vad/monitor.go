package vad

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Source is a live analysis tap on an audio stream.
type Source interface {
	// Snapshot fills dst with the newest time-domain samples.
	Snapshot(dst []byte)
	// Release frees the tap. It may be called more than once.
	Release()
}

// Sampler is a periodic trigger with an explicit stop.
type Sampler interface {
	C() <-chan time.Time
	Stop()
}

type tickerSampler struct{ t *clock.Ticker }

// NewTickerSampler returns a Sampler ticking every interval on clk.
func NewTickerSampler(clk clock.Clock, interval time.Duration) Sampler {
	if interval <= 0 {
		interval = FrameInterval
	}
	return &tickerSampler{t: clk.Ticker(interval)}
}

func (s *tickerSampler) C() <-chan time.Time { return s.t.C }
func (s *tickerSampler) Stop()               { s.t.Stop() }

// Monitor is one amplitude session: a source, a sampler and a fresh detector.
// It is owned by a single goroutine which selects on C and calls Sample per tick.
type Monitor struct {
	src     Source
	sampler Sampler
	det     *Detector
	gate    func() bool
	buf     []byte
	stopped bool
}

// NewMonitor starts an amplitude session. gate is consulted before every sample;
// when it reports false the monitor halts without classifying.
func NewMonitor(src Source, sampler Sampler, p Params, gate func() bool) *Monitor {
	size := p.FrameSize
	if size <= 0 {
		size = DefaultParams().FrameSize
	}
	return &Monitor{
		src:     src,
		sampler: sampler,
		det:     NewDetector(p),
		gate:    gate,
		buf:     make([]byte, size),
	}
}

// C is the sampler channel, or nil once the monitor is stopped so a select on it blocks.
func (m *Monitor) C() <-chan time.Time {
	if m == nil || m.stopped {
		return nil
	}
	return m.sampler.C()
}

// Sample classifies the current frame. ok is false when the monitor is stopped or
// the gate closed; the monitor stops itself after end of speech.
func (m *Monitor) Sample() (f Frame, ok bool) {
	if m == nil || m.stopped {
		return Frame{}, false
	}
	if m.gate != nil && !m.gate() {
		m.Stop()
		return Frame{}, false
	}
	m.src.Snapshot(m.buf)
	f = m.det.Classify(m.buf)
	if f.EndOfSpeech {
		m.Stop()
	}
	return f, true
}

// Stopped reports whether Stop has run.
func (m *Monitor) Stopped() bool { return m == nil || m.stopped }

// Stop halts sampling and releases the source. Safe to call repeatedly.
func (m *Monitor) Stop() {
	if m == nil || m.stopped {
		return
	}
	m.stopped = true
	m.sampler.Stop()
	m.src.Release()
}
