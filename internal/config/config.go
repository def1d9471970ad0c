package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const defaultICEServers = `[{"urls":["stun:stun.l.google.com:19302"]}]`

// Config holds application configuration.
type Config struct {
	HTTPAddress  string
	AuthPassword string
	SessionTTL   time.Duration

	OpenAIKey     string
	OpenAIBaseURL string
	LLMModel      string
	STTModel      string

	TTSProvider       string
	TTSModel          string
	TTSVoice          string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModel     string
	SpeakClosings     bool

	IdleTimeout       time.Duration
	MinClipBytes      int
	MinUtteranceChars int
	HistoryTurns      int
	ServiceTimeout    time.Duration

	ICEServersJSON string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	LogLevel string
}

// Load reads .env files (default ".env") and the environment and returns Config
// with sane defaults.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debug().Err(err).Msg("config: no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:  getenv("HTTP_ADDRESS", ":8080"),
		AuthPassword: os.Getenv("AUTH_PASSWORD"),
		SessionTTL:   duration("SESSION_TTL", 12*time.Hour),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		LLMModel:      getenv("LLM_MODEL", "gpt-4.1"),
		STTModel:      getenv("STT_MODEL", "whisper-1"),

		TTSProvider:       strings.ToLower(getenv("TTS_PROVIDER", "openai")),
		TTSModel:          getenv("TTS_MODEL", "gpt-4o-mini-tts"),
		TTSVoice:          getenv("TTS_VOICE", "alloy"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getenv("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		SpeakClosings:     boolean("SPEAK_CLOSINGS", false),

		IdleTimeout:       duration("IDLE_TIMEOUT", 7*time.Second),
		MinClipBytes:      integer("MIN_CLIP_BYTES", 2000),
		MinUtteranceChars: integer("MIN_UTTERANCE_CHARS", 3),
		HistoryTurns:      integer("HISTORY_TURNS", 10),
		ServiceTimeout:    duration("SERVICE_TIMEOUT", 30*time.Second),

		ICEServersJSON: getenv("ICE_SERVERS_JSON", defaultICEServers),

		SupabaseURL:    os.Getenv("SUPABASE_URL"),
		SupabaseKey:    os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket: getenv("SUPABASE_BUCKET", "transcripts"),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	if cfg.OpenAIKey == "" {
		log.Warn().Msg("config: OPENAI_API_KEY not set - completion and transcription will not work")
	}
	switch cfg.TTSProvider {
	case "elevenlabs":
		if cfg.ElevenLabsKey == "" || cfg.ElevenLabsVoiceID == "" {
			log.Warn().Msg("config: ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - replies will be text only")
		}
	case "deepgram":
		if cfg.DeepgramKey == "" {
			log.Warn().Msg("config: DEEPGRAM_API_KEY not set - replies will be text only")
		}
	}
	if cfg.AuthPassword == "" {
		log.Warn().Msg("config: AUTH_PASSWORD not set - the session gate is disabled")
	}

	log.Info().Str("http_address", cfg.HTTPAddress).Str("tts", cfg.TTSProvider).Msg("config loaded")
	return cfg
}

// ArchiveEnabled reports whether transcripts can be uploaded.
func (c Config) ArchiveEnabled() bool { return c.SupabaseURL != "" && c.SupabaseKey != "" }

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid duration, using default")
		return def
	}
	return d
}

func integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid integer, using default")
		return def
	}
	return n
}

func boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid boolean, using default")
		return def
	}
	return b
}
