package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chadiek/voiceloop/internal/auth"
	"github.com/chadiek/voiceloop/internal/config"
	"github.com/chadiek/voiceloop/internal/conversation"
	"github.com/chadiek/voiceloop/internal/dialogue"
	"github.com/chadiek/voiceloop/internal/httpserver"
	"github.com/chadiek/voiceloop/internal/llm"
	"github.com/chadiek/voiceloop/internal/logging"
	"github.com/chadiek/voiceloop/internal/metrics"
	"github.com/chadiek/voiceloop/internal/storage"
	"github.com/chadiek/voiceloop/internal/transcript"
	"github.com/chadiek/voiceloop/internal/tts"
	"github.com/chadiek/voiceloop/internal/turn"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr, envFile string
	cmd := &cobra.Command{
		Use:          "voiceloop",
		Short:        "Turn-taking voice companion server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg := config.Load(files...)
			if addr != "" {
				cfg.HTTPAddress = addr
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDRESS)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	return cmd
}

func run(cfg config.Config) error {
	logging.Setup(cfg.LogLevel, os.Stderr)

	srv, err := build(cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
	srv.Shutdown()
	return nil
}

func build(cfg config.Config) (*httpserver.Server, error) {
	gate, err := auth.NewGate(cfg.AuthPassword, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	synth, err := tts.New(tts.Settings{
		Provider:          cfg.TTSProvider,
		OpenAIKey:         cfg.OpenAIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		OpenAIModel:       cfg.TTSModel,
		OpenAIVoice:       cfg.TTSVoice,
		ElevenLabsKey:     cfg.ElevenLabsKey,
		ElevenLabsVoiceID: cfg.ElevenLabsVoiceID,
		DeepgramKey:       cfg.DeepgramKey,
		DeepgramModel:     cfg.DeepgramModel,
	})
	if err != nil {
		return nil, err
	}
	whisper := transcript.NewWhisper(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.STTModel)
	whisper.MinClipBytes = cfg.MinClipBytes

	m := metrics.New("voiceloop")
	var archive *storage.Archive
	if cfg.ArchiveEnabled() {
		up, err := storage.NewSupabase(storage.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Warn().Err(err).Msg("transcript archive disabled")
		} else {
			archive = storage.NewArchive(up)
		}
	}

	factory := &conversation.Factory{
		Completer:   llm.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.LLMModel),
		Synthesizer: synth,
		Transcriber: whisper,
		Settings: conversation.Settings{
			Turn: turn.Config{
				IdleTimeout:    cfg.IdleTimeout,
				MinClipBytes:   cfg.MinClipBytes,
				ServiceTimeout: cfg.ServiceTimeout,
			},
			MinUtteranceChars: cfg.MinUtteranceChars,
			HistoryTurns:      cfg.HistoryTurns,
			SpeechPolicy:      dialogue.ParseSpeechPolicy(cfg.SpeakClosings),
		},
		Metrics: m,
		Archive: archive,
	}
	return httpserver.New(httpserver.Deps{
		Gate:           gate,
		Conversations:  factory,
		Metrics:        m,
		ICEServersJSON: cfg.ICEServersJSON,
		MinClipBytes:   cfg.MinClipBytes,
		Logger:         log.Logger,
	}), nil
}
