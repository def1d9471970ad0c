package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceloop/internal/audio"
)

type feedDevice struct {
	feeds   []*Feed
	err     error
	autoAck bool
}

func (d *feedDevice) Open(ctx context.Context) (Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	var f *Feed
	f = NewFeed(Format{MIME: MIMEPCM, Audio: audio.Mono16k}, 2048, func() {
		if d.autoAck {
			f.Ack()
		}
	})
	d.feeds = append(d.feeds, f)
	return f, nil
}

func recvClip(t *testing.T, ch <-chan *Clip) (*Clip, bool) {
	t.Helper()
	select {
	case c, ok := <-ch:
		return c, ok
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for clip")
		return nil, false
	}
}

func TestRecorder_StopWaitsForDeviceAck(t *testing.T) {
	dev := &feedDevice{}
	r := NewRecorder(dev, "test")
	require.NoError(t, r.Start(context.Background()))
	require.True(t, r.Recording())

	feed := dev.feeds[0]
	feed.Push(make([]byte, 1600))
	done := r.Stop()
	assert.False(t, r.Recording())

	// the device may still flush after the stop request
	feed.Push(make([]byte, 1600))
	select {
	case <-done:
		t.Fatalf("clip finalized before device acknowledged stop")
	case <-time.After(20 * time.Millisecond):
	}
	feed.Ack()

	clip, ok := recvClip(t, done)
	require.True(t, ok)
	require.NotNil(t, clip)
	assert.Equal(t, "audio/wav", clip.MIME)
	assert.Equal(t, 44+3200, clip.Size())
	assert.True(t, clip.Viable(MinClipBytes))
}

func TestRecorder_SecondStopIsNoop(t *testing.T) {
	dev := &feedDevice{autoAck: true}
	r := NewRecorder(dev, "test")
	require.NoError(t, r.Start(context.Background()))
	dev.feeds[0].Push(make([]byte, 4000))

	first := r.Stop()
	second := r.Stop()

	clip, ok := recvClip(t, second)
	assert.False(t, ok)
	assert.Nil(t, clip)

	clip, ok = recvClip(t, first)
	require.True(t, ok)
	require.NotNil(t, clip)

	_, ok = recvClip(t, first)
	assert.False(t, ok, "clip must be produced exactly once")
}

func TestRecorder_StopWhenIdle(t *testing.T) {
	r := NewRecorder(&feedDevice{}, "test")
	clip, ok := recvClip(t, r.Stop())
	assert.False(t, ok)
	assert.Nil(t, clip)
	assert.Nil(t, r.Analyser())
}

func TestRecorder_DeviceError(t *testing.T) {
	r := NewRecorder(&feedDevice{err: errors.New("permission denied")}, "browser")
	err := r.Start(context.Background())
	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "browser", de.Device)
	assert.Contains(t, err.Error(), "permission denied")
	assert.False(t, r.Recording())
}

func TestRecorder_AlreadyRecording(t *testing.T) {
	dev := &feedDevice{autoAck: true}
	r := NewRecorder(dev, "test")
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRecording)
	assert.NotNil(t, r.Analyser())
	<-r.Stop()
}

func TestRecorder_TinyClipIsNotViable(t *testing.T) {
	dev := &feedDevice{autoAck: true}
	r := NewRecorder(dev, "test")
	require.NoError(t, r.Start(context.Background()))
	dev.feeds[0].Push(make([]byte, 320))
	clip, _ := recvClip(t, r.Stop())
	require.NotNil(t, clip)
	assert.False(t, clip.Viable(MinClipBytes))
}

func TestFinalize_EncodedChunksConcatenate(t *testing.T) {
	clip := finalize([][]byte{{1, 2}, {3}}, Format{MIME: "audio/webm"})
	assert.Equal(t, []byte{1, 2, 3}, clip.Data)
	assert.Equal(t, "audio/webm", clip.MIME)
	assert.Equal(t, "audio.webm", clip.Filename())
}

func TestFinalize_EmptyPCM(t *testing.T) {
	clip := finalize(nil, Format{MIME: MIMEPCM})
	assert.Equal(t, 0, clip.Size())
	assert.False(t, clip.Viable(1))
}

func TestFeed_PushAfterAckIsRejected(t *testing.T) {
	calls := 0
	f := NewFeed(Format{MIME: MIMEPCM}, 16, func() { calls++ })
	assert.True(t, f.Push([]byte{0, 4}))
	f.Stop()
	f.Stop()
	assert.Equal(t, 1, calls)
	f.Ack()
	f.Ack()
	assert.False(t, f.Push([]byte{0, 0}))

	dst := make([]byte, 2)
	f.Analyser().Snapshot(dst)
	assert.Equal(t, []byte{128, 132}, dst)
}

func TestClip_NilSafe(t *testing.T) {
	var c *Clip
	assert.Equal(t, 0, c.Size())
	assert.False(t, c.Viable(MinClipBytes))
}
