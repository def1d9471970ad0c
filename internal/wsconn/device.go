package wsconn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceloop/internal/audio"
	"github.com/chadiek/voiceloop/internal/capture"
	"github.com/chadiek/voiceloop/internal/protocol"
)

// ErrClosed is returned by Open after the session has ended.
var ErrClosed = errors.New("wsconn: session closed")

// Device is the browser microphone behind the socket. Each Open is a numbered
// capture so acknowledgments for an earlier capture are never applied to a
// later one.
type Device struct {
	send func(protocol.Envelope) error
	log  zerolog.Logger
	// AckTimeout closes a capture whose stop the client never acknowledged.
	AckTimeout time.Duration

	mu     sync.Mutex
	nextID uint64
	cur    *remoteCapture
	closed bool
}

type remoteCapture struct {
	id      uint64
	feed    *capture.Feed
	opened  chan error
	started bool
}

func newDevice(send func(protocol.Envelope) error, logger zerolog.Logger) *Device {
	return &Device{send: send, log: logger, AckTimeout: 2 * time.Second}
}

// Open asks the client to start its microphone and waits for the answer.
func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.nextID++
	rc := &remoteCapture{id: d.nextID, opened: make(chan error, 1)}
	rc.feed = capture.NewFeed(capture.Format{MIME: capture.MIMEPCM, Audio: audio.Mono16k}, 2048, func() { d.requestStop(rc) })
	if d.cur != nil {
		d.cur.feed.Ack()
	}
	d.cur = rc
	d.mu.Unlock()

	if err := d.send(protocol.Envelope{Type: protocol.TypeCaptureStart, CaptureID: rc.id}); err != nil {
		d.drop(rc)
		return nil, err
	}
	select {
	case err := <-rc.opened:
		if err != nil {
			d.drop(rc)
			return nil, err
		}
		return rc.feed, nil
	case <-ctx.Done():
		d.drop(rc)
		_ = d.send(protocol.Envelope{Type: protocol.TypeCaptureStop, CaptureID: rc.id})
		return nil, ctx.Err()
	}
}

func (d *Device) requestStop(rc *remoteCapture) {
	if err := d.send(protocol.Envelope{Type: protocol.TypeCaptureStop, CaptureID: rc.id}); err != nil {
		d.log.Debug().Err(err).Uint64("capture", rc.id).Msg("ws: capture stop not delivered")
		d.drop(rc)
		return
	}
	time.AfterFunc(d.AckTimeout, func() {
		d.mu.Lock()
		pending := d.cur == rc
		d.mu.Unlock()
		if pending {
			d.log.Warn().Uint64("capture", rc.id).Msg("ws: capture stop not acknowledged")
			d.drop(rc)
		}
	})
}

// drop acknowledges rc locally and forgets it.
func (d *Device) drop(rc *remoteCapture) {
	d.mu.Lock()
	if d.cur == rc {
		d.cur = nil
	}
	d.mu.Unlock()
	rc.feed.Ack()
}

func (d *Device) current(id uint64) *remoteCapture {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur == nil || d.cur.id != id {
		return nil
	}
	return d.cur
}

func (d *Device) started(id uint64) {
	d.mu.Lock()
	rc := d.cur
	if rc == nil || rc.id != id || rc.started {
		d.mu.Unlock()
		return
	}
	rc.started = true
	d.mu.Unlock()
	select {
	case rc.opened <- nil:
	default:
	}
}

func (d *Device) failed(id uint64, err error) {
	if rc := d.current(id); rc != nil {
		select {
		case rc.opened <- err:
		default:
		}
	}
}

func (d *Device) stopped(id uint64) {
	if rc := d.current(id); rc != nil {
		d.drop(rc)
	}
}

func (d *Device) push(chunk []byte) {
	d.mu.Lock()
	rc := d.cur
	d.mu.Unlock()
	if rc == nil || !rc.started {
		return
	}
	rc.feed.Push(chunk)
}

// Close releases the current capture.
func (d *Device) Close() {
	d.mu.Lock()
	d.closed = true
	rc := d.cur
	d.cur = nil
	d.mu.Unlock()
	if rc != nil {
		select {
		case rc.opened <- ErrClosed:
		default:
		}
		rc.feed.Ack()
	}
}
