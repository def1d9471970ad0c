package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceloop/internal/turn"
)

func TestDecode(t *testing.T) {
	e, err := Decode([]byte(`{"type":"capture.stopped","captureId":7}`))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Type: TypeCaptureStopped, CaptureID: 7}, e)

	_, err = Decode([]byte(`{"captureId":7}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`nope`))
	assert.Error(t, err)
}

func TestFromEvent(t *testing.T) {
	e, ok := FromEvent(turn.StateEvent{From: turn.Idle, To: turn.Listening, Mode: turn.Mode{VoiceModeEnabled: true, MicAllowed: true}})
	require.True(t, ok)
	assert.Equal(t, "idle", e.From)
	assert.Equal(t, "listening", e.To)
	assert.True(t, *e.VoiceMode)
	assert.True(t, *e.MicAllowed)

	e, _ = FromEvent(turn.TranscriptEvent{Entry: turn.Entry{Speaker: turn.Assistant, Text: "hi"}})
	assert.Equal(t, Envelope{Type: TypeTranscript, Speaker: "assistant", Text: "hi"}, e)

	e, _ = FromEvent(turn.RecordingEvent{Recording: false})
	require.NotNil(t, e.Recording)
	assert.False(t, *e.Recording)

	e, _ = FromEvent(turn.ErrorEvent{Err: errors.New("denied")})
	assert.Equal(t, Envelope{Type: TypeError, Error: "denied"}, e)

	e, _ = FromEvent(turn.EndEvent{})
	assert.Equal(t, TypeEnd, e.Type)
}

func TestPlayEncodesAudio(t *testing.T) {
	e := Play(3, "audio/mpeg", []byte{0xff, 0xfb})
	assert.Equal(t, Envelope{Type: TypePlay, PlaybackID: 3, MIME: "audio/mpeg", Audio: "//s="}, e)
}

type fakeController struct {
	mu      sync.Mutex
	presses int
	stops   int
	texts   []string
	err     error
}

func (f *fakeController) PressMic() { f.mu.Lock(); f.presses++; f.mu.Unlock() }
func (f *fakeController) Stop()     { f.mu.Lock(); f.stops++; f.mu.Unlock() }
func (f *fakeController) SubmitText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

type sink struct {
	mu  sync.Mutex
	out []Envelope
}

func (s *sink) send(e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, e)
	return nil
}

func (s *sink) messages() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.out...)
}

func TestDispatch(t *testing.T) {
	ctl := &fakeController{err: turn.ErrBusy}
	var out sink
	ctx := context.Background()

	require.NoError(t, Dispatch(ctx, ctl, Envelope{Type: TypeMicPress}, out.send))
	require.NoError(t, Dispatch(ctx, ctl, Envelope{Type: TypeStop}, out.send))
	require.NoError(t, Dispatch(ctx, ctl, Envelope{Type: TypeText, Text: "hello there"}, out.send))
	assert.ErrorIs(t, Dispatch(ctx, ctl, Envelope{Type: "dance"}, out.send), ErrUnknownType)

	require.Eventually(t, func() bool { return len(out.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Envelope{Type: TypeTextRejected, Text: "hello there", Error: turn.ErrBusy.Error()}, out.messages()[0])
	assert.Equal(t, 1, ctl.presses)
	assert.Equal(t, 1, ctl.stops)
}

func TestRelay(t *testing.T) {
	events := make(chan turn.Event, 3)
	events <- turn.RecordingEvent{Recording: true}
	events <- turn.EndEvent{}
	close(events)

	var out sink
	Relay(context.Background(), events, out.send, zerolog.Nop())
	msgs := out.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, TypeRecording, msgs[0].Type)
	assert.Equal(t, TypeEnd, msgs[1].Type)
}
