package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("ICE_SERVERS_JSON", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("IDLE_TIMEOUT", "")
	t.Setenv("MIN_UTTERANCE_CHARS", "")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
	if cfg.LLMModel == "" {
		t.Fatalf("expected default llm model")
	}
	assert.Equal(t, 7*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 3, cfg.MinUtteranceChars)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9090")
	t.Setenv("IDLE_TIMEOUT", "5s")
	t.Setenv("MIN_CLIP_BYTES", "4000")
	t.Setenv("SPEAK_CLOSINGS", "true")
	t.Setenv("TTS_PROVIDER", "Deepgram")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, ":9090", cfg.HTTPAddress)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 4000, cfg.MinClipBytes)
	assert.True(t, cfg.SpeakClosings)
	assert.Equal(t, "deepgram", cfg.TTSProvider)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("IDLE_TIMEOUT", "soon")
	t.Setenv("HISTORY_TURNS", "-3")
	t.Setenv("SPEAK_CLOSINGS", "maybe")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, 7*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 10, cfg.HistoryTurns)
	assert.False(t, cfg.SpeakClosings)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SUPABASE_URL=https://x.supabase.co\nSUPABASE_SERVICE_ROLE_KEY=k\n"), 0o600))
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "")
	os.Unsetenv("SUPABASE_URL")
	os.Unsetenv("SUPABASE_SERVICE_ROLE_KEY")
	cfg := Load(path)
	assert.Equal(t, "https://x.supabase.co", cfg.SupabaseURL)
	assert.True(t, cfg.ArchiveEnabled())
}
