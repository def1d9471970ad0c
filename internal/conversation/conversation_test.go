package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceloop/internal/capture"
	"github.com/chadiek/voiceloop/internal/dialogue"
	"github.com/chadiek/voiceloop/internal/metrics"
	"github.com/chadiek/voiceloop/internal/protocol"
	"github.com/chadiek/voiceloop/internal/storage"
	"github.com/chadiek/voiceloop/internal/turn"
)

type stubCompleter struct{ reply string }

func (s stubCompleter) Complete(context.Context, []dialogue.Message) (string, error) {
	return s.reply, nil
}

type noTranscriber struct{}

func (noTranscriber) Transcribe(context.Context, *capture.Clip) (string, error) { return "", nil }

type noDevice struct{}

func (noDevice) Open(context.Context) (capture.Stream, error) { return nil, errors.New("no mic") }

type noPlayer struct{}

func (noPlayer) Play(context.Context, dialogue.Audio) (<-chan struct{}, error) {
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}
func (noPlayer) Stop() {}

type memUploader struct {
	mu   sync.Mutex
	keys []string
	data [][]byte
}

func (m *memUploader) Upload(key, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	m.data = append(m.data, data)
	return nil
}

// typingTransport submits one message and returns once the assistant replied.
type typingTransport struct {
	text   string
	seen   []turn.Event
	closed bool
}

func (t *typingTransport) Run(ctx context.Context, ctl protocol.Controller, events <-chan turn.Event) error {
	if err := ctl.SubmitText(ctx, t.text); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				t.closed = true
				return nil
			}
			t.seen = append(t.seen, ev)
			if te, ok := ev.(turn.TranscriptEvent); ok && te.Entry.Speaker == turn.Assistant {
				return nil
			}
		}
	}
}

func newFactory(reply string, up storage.Uploader) *Factory {
	return &Factory{
		Completer:   stubCompleter{reply: reply},
		Transcriber: noTranscriber{},
		Settings:    Settings{MinUtteranceChars: dialogue.DefaultMinChars, HistoryTurns: 4},
		Metrics:     metrics.New("test"),
		Archive:     storage.NewArchive(up),
		Now:         func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) },
	}
}

func TestServeArchivesTranscript(t *testing.T) {
	up := &memUploader{}
	f := newFactory(`Hello! <control>{"shouldEnd": false}</control>`, up)
	c := f.New("ws", noDevice{}, noPlayer{})
	tr := &typingTransport{text: "hello there"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Serve(ctx, tr))

	require.Len(t, up.keys, 1)
	assert.Equal(t, "conversations/2026/03/04/"+c.ID+".json", up.keys[0])

	var rec storage.Record
	require.NoError(t, json.Unmarshal(up.data[0], &rec))
	assert.Equal(t, "ws", rec.Transport)
	assert.False(t, rec.Ended)
	require.Len(t, rec.Entries, 2)
	assert.Equal(t, storage.Entry{Speaker: "user", Text: "hello there"}, rec.Entries[0])
	assert.Equal(t, storage.Entry{Speaker: "assistant", Text: "Hello!"}, rec.Entries[1])
}

func TestServeMarksAssistantClose(t *testing.T) {
	up := &memUploader{}
	f := newFactory(`Goodbye. <control>{"shouldEnd": true}</control>`, up)
	c := f.New("rtc", noDevice{}, noPlayer{})
	tr := &typingTransport{text: "that is all, bye"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Serve(ctx, tr))

	require.Len(t, up.data, 1)
	var rec storage.Record
	require.NoError(t, json.Unmarshal(up.data[0], &rec))
	assert.True(t, rec.Ended)
	assert.Equal(t, "rtc", rec.Transport)
}

func TestServeSkipsEmptyConversation(t *testing.T) {
	up := &memUploader{}
	f := newFactory("unused", up)
	c := f.New("ws", noDevice{}, noPlayer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Serve(ctx, idleTransport{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, up.keys)
	assert.Empty(t, c.Controller().Snapshot().Transcript)
}

type idleTransport struct{}

func (idleTransport) Run(ctx context.Context, _ protocol.Controller, _ <-chan turn.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStatelessExchangeKeepsNoHistory(t *testing.T) {
	f := newFactory(`Sure. <control>{"shouldEnd": false}</control>`, &memUploader{})
	x := f.Exchange(0)
	reply, err := x.Exchange(context.Background(), dialogue.Request{Text: "tell me a joke"})
	require.NoError(t, err)
	assert.Equal(t, "Sure.", reply.Text)
	assert.Empty(t, x.History())
}
