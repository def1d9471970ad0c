package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/chadiek/voiceloop/internal/audio"
	"github.com/chadiek/voiceloop/internal/capture"
)

var (
	// ErrNoTrack is returned by Open before the remote audio track arrived.
	ErrNoTrack = errors.New("rtc: no remote audio track")
	ErrClosed  = errors.New("rtc: peer closed")
)

// Device exposes the remote audio track as a microphone. The track runs for the
// whole call, so opening and stopping only gate which audio reaches the clip.
type Device struct {
	mu       sync.Mutex
	hasTrack bool
	feed     *capture.Feed
	closed   bool
}

func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if !d.hasTrack {
		return nil, ErrNoTrack
	}
	if d.feed != nil {
		d.feed.Ack()
	}
	var f *capture.Feed
	f = capture.NewFeed(capture.Format{MIME: capture.MIMEPCM, Audio: audio.Mono16k}, 2048, func() {
		d.mu.Lock()
		if d.feed == f {
			d.feed = nil
		}
		d.mu.Unlock()
		f.Ack()
	})
	d.feed = f
	return f, nil
}

func (d *Device) attach() {
	d.mu.Lock()
	d.hasTrack = true
	d.mu.Unlock()
}

// push hands decoded 16kHz PCM to the open capture, if any.
func (d *Device) push(pcm []byte) {
	d.mu.Lock()
	f := d.feed
	d.mu.Unlock()
	if f != nil {
		f.Push(pcm)
	}
}

func (d *Device) Close() {
	d.mu.Lock()
	d.closed = true
	f := d.feed
	d.feed = nil
	d.mu.Unlock()
	if f != nil {
		f.Ack()
	}
}
