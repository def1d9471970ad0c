package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceloop/internal/capture"
	"github.com/chadiek/voiceloop/internal/dialogue"
	"github.com/chadiek/voiceloop/internal/protocol"
	"github.com/chadiek/voiceloop/internal/turn"
)

type fakeController struct {
	mu      sync.Mutex
	presses int
}

func (f *fakeController) PressMic() { f.mu.Lock(); f.presses++; f.mu.Unlock() }
func (f *fakeController) Stop()     {}
func (f *fakeController) SubmitText(context.Context, string) error {
	return nil
}

func (f *fakeController) pressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presses
}

type rig struct {
	sess   *Session
	client *websocket.Conn
	ctl    *fakeController
	events chan turn.Event
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{ctl: &fakeController{}, events: make(chan turn.Event, 8)}
	ready := make(chan *Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := Upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		s := NewSession(conn, zerolog.Nop())
		ready <- s
		_ = s.Run(req.Context(), r.ctl, r.events)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	r.client = client
	select {
	case r.sess = <-ready:
	case <-time.After(time.Second):
		t.Fatal("session not created")
	}
	return r
}

func (r *rig) read(t *testing.T) protocol.Envelope {
	t.Helper()
	_ = r.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e protocol.Envelope
	require.NoError(t, r.client.ReadJSON(&e))
	return e
}

func (r *rig) write(t *testing.T, e protocol.Envelope) {
	t.Helper()
	require.NoError(t, r.client.WriteJSON(e))
}

func TestDevice_CaptureLifecycle(t *testing.T) {
	r := newRig(t)

	type opened struct {
		s   capture.Stream
		err error
	}
	res := make(chan opened, 1)
	go func() {
		s, err := r.sess.Device().Open(context.Background())
		res <- opened{s, err}
	}()

	start := r.read(t)
	assert.Equal(t, protocol.TypeCaptureStart, start.Type)
	r.write(t, protocol.Envelope{Type: protocol.TypeCaptureStarted, CaptureID: start.CaptureID})

	var o opened
	select {
	case o = <-res:
	case <-time.After(2 * time.Second):
		t.Fatal("open did not return")
	}
	require.NoError(t, o.err)
	assert.Equal(t, capture.MIMEPCM, o.s.Format().MIME)

	require.NoError(t, r.client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}))
	select {
	case chunk := <-o.s.Chunks():
		assert.Equal(t, []byte{1, 2, 3, 4}, chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("chunk not delivered")
	}

	o.s.Stop()
	stop := r.read(t)
	assert.Equal(t, protocol.Envelope{Type: protocol.TypeCaptureStop, CaptureID: start.CaptureID}, stop)

	// a stale acknowledgment is ignored
	r.write(t, protocol.Envelope{Type: protocol.TypeCaptureStopped, CaptureID: start.CaptureID + 10})
	r.write(t, protocol.Envelope{Type: protocol.TypeCaptureStopped, CaptureID: start.CaptureID})
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-o.s.Chunks():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDevice_CaptureDenied(t *testing.T) {
	r := newRig(t)
	res := make(chan error, 1)
	go func() {
		_, err := r.sess.Device().Open(context.Background())
		res <- err
	}()
	start := r.read(t)
	r.write(t, protocol.Envelope{Type: protocol.TypeCaptureError, CaptureID: start.CaptureID, Error: "NotAllowedError"})
	select {
	case err := <-res:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NotAllowedError")
	case <-time.After(2 * time.Second):
		t.Fatal("open did not return")
	}
}

func TestDevice_UnacknowledgedStopTimesOut(t *testing.T) {
	r := newRig(t)
	r.sess.Device().AckTimeout = 20 * time.Millisecond
	res := make(chan capture.Stream, 1)
	go func() {
		s, _ := r.sess.Device().Open(context.Background())
		res <- s
	}()
	start := r.read(t)
	r.write(t, protocol.Envelope{Type: protocol.TypeCaptureStarted, CaptureID: start.CaptureID})
	s := <-res
	require.NotNil(t, s)
	s.Stop()
	r.read(t)
	select {
	case _, ok := <-s.Chunks():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("capture never closed")
	}
}

func TestPlayer_PlayAndEnd(t *testing.T) {
	r := newRig(t)
	done, err := r.sess.Player().Play(context.Background(), dialogue.Audio{Data: []byte("mp3"), MIME: "audio/mpeg"})
	require.NoError(t, err)

	play := r.read(t)
	assert.Equal(t, protocol.TypePlay, play.Type)
	assert.Equal(t, "audio/mpeg", play.MIME)
	assert.Equal(t, "bXAz", play.Audio)

	r.write(t, protocol.Envelope{Type: protocol.TypePlaybackEnded, PlaybackID: play.PlaybackID})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never ended")
	}
}

func TestPlayer_Stop(t *testing.T) {
	r := newRig(t)
	done, err := r.sess.Player().Play(context.Background(), dialogue.Audio{Data: []byte("x"), MIME: "audio/mpeg"})
	require.NoError(t, err)
	play := r.read(t)

	r.sess.Player().Stop()
	_, open := <-done
	assert.False(t, open)
	assert.Equal(t, protocol.Envelope{Type: protocol.TypePlayStop, PlaybackID: play.PlaybackID}, r.read(t))

	// late end reports are harmless
	r.write(t, protocol.Envelope{Type: protocol.TypePlaybackEnded, PlaybackID: play.PlaybackID})
}

func TestSession_CommandsAndEvents(t *testing.T) {
	r := newRig(t)
	r.write(t, protocol.Envelope{Type: protocol.TypeMicPress})
	require.Eventually(t, func() bool { return r.ctl.pressCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	r.events <- turn.TranscriptEvent{Entry: turn.Entry{Speaker: turn.User, Text: "hello"}}
	assert.Equal(t, protocol.Envelope{Type: protocol.TypeTranscript, Speaker: "user", Text: "hello"}, r.read(t))
}
