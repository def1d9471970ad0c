package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceloop/internal/capture"
)

func whisperServer(t *testing.T, status int, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		if assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			assert.Equal(t, "whisper-1", r.FormValue("model"))
			if _, fh, err := r.FormFile("file"); assert.NoError(t, err) {
				assert.Equal(t, "audio.wav", fh.Filename)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWhisper_Transcribe(t *testing.T) {
	var calls int32
	srv := whisperServer(t, http.StatusOK, `{"text":"  what a lovely day \n"}`, &calls)
	w := NewWhisper("key", srv.URL+"/v1", "")

	text, err := w.Transcribe(context.Background(), &capture.Clip{Data: make([]byte, 4096), MIME: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "what a lovely day", text)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWhisper_SmallClipSkipsRequest(t *testing.T) {
	var calls int32
	srv := whisperServer(t, http.StatusOK, `{"text":"x"}`, &calls)
	w := NewWhisper("key", srv.URL+"/v1", "")

	text, err := w.Transcribe(context.Background(), &capture.Clip{Data: make([]byte, 1999), MIME: "audio/wav"})
	require.NoError(t, err)
	assert.Empty(t, text)

	text, err = w.Transcribe(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestWhisper_Failure(t *testing.T) {
	var calls int32
	srv := whisperServer(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`, &calls)
	w := NewWhisper("key", srv.URL+"/v1", "")

	text, err := w.Transcribe(context.Background(), &capture.Clip{Data: make([]byte, 4096), MIME: "audio/wav"})
	assert.Error(t, err)
	assert.Empty(t, text)
}

func TestWhisper_NoKey(t *testing.T) {
	w := NewWhisper("", "", "")
	_, err := w.Transcribe(context.Background(), &capture.Clip{Data: make([]byte, 4096)})
	assert.Error(t, err)
}
