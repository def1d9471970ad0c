package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/voiceloop/internal/audio"
	"github.com/chadiek/voiceloop/internal/vad"
)

// Recorder owns the device for one conversation and runs at most one recording
// at a time.
type Recorder struct {
	dev  Device
	name string

	mu   sync.Mutex
	sess *recording
}

type recording struct {
	stream Stream
	done   chan *Clip
}

func NewRecorder(dev Device, name string) *Recorder {
	return &Recorder{dev: dev, name: name}
}

// Start opens the device and begins buffering chunks. Open failures come back
// as *DeviceError.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.sess != nil {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.mu.Unlock()

	stream, err := r.dev.Open(ctx)
	if err != nil {
		var de *DeviceError
		if errors.As(err, &de) {
			return err
		}
		return &DeviceError{Device: r.name, Err: err}
	}

	rec := &recording{stream: stream, done: make(chan *Clip, 1)}
	r.mu.Lock()
	if r.sess != nil {
		r.mu.Unlock()
		stream.Stop()
		return ErrAlreadyRecording
	}
	r.sess = rec
	r.mu.Unlock()

	go rec.collect()
	return nil
}

// Recording reports whether a recording is live.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// Analyser returns the live analysis tap, or nil when not recording.
func (r *Recorder) Analyser() vad.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.stream.Analyser()
}

// Stop ends the recording. The returned channel yields the clip once the device
// acknowledges the stop. When nothing is recording the channel is already closed
// and yields nil, so a second Stop never produces a second clip.
func (r *Recorder) Stop() <-chan *Clip {
	r.mu.Lock()
	rec := r.sess
	r.sess = nil
	r.mu.Unlock()
	if rec == nil {
		done := make(chan *Clip)
		close(done)
		return done
	}
	rec.stream.Stop()
	return rec.done
}

func (rec *recording) collect() {
	var chunks [][]byte
	for c := range rec.stream.Chunks() {
		if len(c) > 0 {
			chunks = append(chunks, c)
		}
	}
	clip := finalize(chunks, rec.stream.Format())
	log.Debug().Int("chunks", len(chunks)).Int("bytes", clip.Size()).Msg("capture finalized")
	rec.done <- clip
	close(rec.done)
}

func finalize(chunks [][]byte, f Format) *Clip {
	data := bytes.Join(chunks, nil)
	if f.MIME == MIMEPCM || f.MIME == "" {
		af := f.Audio
		if af.SampleRate == 0 {
			af = audio.Mono16k
		}
		if len(data) == 0 {
			return &Clip{MIME: "audio/wav"}
		}
		return &Clip{Data: audio.EncodeWAV(data, af), MIME: "audio/wav"}
	}
	return &Clip{Data: data, MIME: f.MIME}
}
