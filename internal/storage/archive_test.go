package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceloop/internal/turn"
)

type memUploader struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memUploader) Upload(key, contentType string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects, m.types = map[string][]byte{}, map[string]string{}
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func TestArchive_Save(t *testing.T) {
	up := &memUploader{}
	started := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	r := NewRecord("abc", "ws", started, started.Add(time.Minute), true, []turn.Entry{
		{Speaker: turn.User, Text: "good morning"},
		{Speaker: turn.Assistant, Text: "Good morning to you."},
	})
	require.NoError(t, NewArchive(up).Save(context.Background(), r))

	key := "conversations/2026/10/19/abc.json"
	require.Contains(t, up.objects, key)
	assert.Equal(t, "application/json", up.types[key])
	var got Record
	require.NoError(t, json.Unmarshal(up.objects[key], &got))
	assert.Equal(t, "ws", got.Transport)
	assert.True(t, got.Ended)
	assert.Equal(t, []Entry{{"user", "good morning"}, {"assistant", "Good morning to you."}}, got.Entries)
}

func TestArchive_SkipsEmpty(t *testing.T) {
	up := &memUploader{}
	require.NoError(t, NewArchive(up).Save(context.Background(), NewRecord("x", "rtc", time.Now(), time.Now(), false, nil)))
	assert.Empty(t, up.objects)
}

func TestArchive_UploadError(t *testing.T) {
	up := &memUploader{err: errors.New("bucket missing")}
	r := NewRecord("x", "ws", time.Now(), time.Now(), false, []turn.Entry{{Speaker: turn.User, Text: "hello"}})
	assert.Error(t, NewArchive(up).Save(context.Background(), r))
}

func TestNewSupabase_RequiresConfig(t *testing.T) {
	_, err := NewSupabase(SupabaseConfig{})
	assert.Error(t, err)
}
