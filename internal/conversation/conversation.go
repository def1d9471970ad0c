// Package conversation wires one turn controller per client connection: the
// transport's device and player, the shared model clients, metrics and the
// transcript archive.
package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceloop/internal/capture"
	"github.com/chadiek/voiceloop/internal/dialogue"
	"github.com/chadiek/voiceloop/internal/logging"
	"github.com/chadiek/voiceloop/internal/metrics"
	"github.com/chadiek/voiceloop/internal/protocol"
	"github.com/chadiek/voiceloop/internal/storage"
	"github.com/chadiek/voiceloop/internal/turn"
)

const archiveTimeout = 10 * time.Second

// Transport carries one conversation to its client. Run blocks until the
// client goes away or ctx ends.
type Transport interface {
	Run(ctx context.Context, ctl protocol.Controller, events <-chan turn.Event) error
}

// Settings are the per-conversation tunables.
type Settings struct {
	Turn              turn.Config
	MinUtteranceChars int
	HistoryTurns      int
	SpeechPolicy      dialogue.SpeechPolicy
}

// Factory builds conversations around shared clients. Metrics and Archive may be nil.
type Factory struct {
	Completer   dialogue.Completer
	Synthesizer dialogue.Synthesizer
	Transcriber turn.Transcriber
	Settings    Settings
	Metrics     *metrics.Metrics
	Archive     *storage.Archive
	Now         func() time.Time
}

// Exchange builds a dialogue engine with the given history bound.
func (f *Factory) Exchange(history int) *dialogue.Exchange {
	return dialogue.New(f.Completer, f.Synthesizer,
		dialogue.WithFilter(dialogue.NewFilter(f.Settings.MinUtteranceChars, dialogue.DefaultFillers)),
		dialogue.WithSpeechPolicy(f.Settings.SpeechPolicy),
		dialogue.WithHistory(history),
	)
}

// Conversation is one live controller.
type Conversation struct {
	ID        string
	transport string
	log       zerolog.Logger
	ctl       *turn.Controller
	f         *Factory
	started   time.Time
}

// New creates a conversation over dev and player.
func (f *Factory) New(transport string, dev capture.Device, player turn.Player) *Conversation {
	id := uuid.NewString()
	logger := logging.Conversation(id, transport)
	cfg := f.Settings.Turn
	cfg.Logger = &logger
	if f.Metrics != nil {
		cfg.Observer = f.Metrics.Observer()
	}
	ctl := turn.New(cfg, capture.NewRecorder(dev, transport), f.Transcriber, f.Exchange(f.Settings.HistoryTurns), player)
	return &Conversation{ID: id, transport: transport, log: logger, ctl: ctl, f: f, started: f.now()}
}

func (c *Conversation) Controller() *turn.Controller { return c.ctl }

// Serve runs the controller over t and archives the transcript when the
// conversation is over.
func (c *Conversation) Serve(ctx context.Context, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.f.Metrics != nil {
		defer c.f.Metrics.ConversationStarted(c.transport)()
	}
	c.log.Info().Msg("conversation started")

	go func() { _ = c.ctl.Run(ctx) }()

	events := make(chan turn.Event, 64)
	ended := make(chan bool, 1)
	go func() {
		defer close(events)
		sawEnd := false
		for ev := range c.ctl.Events() {
			if _, ok := ev.(turn.EndEvent); ok {
				sawEnd = true
			}
			events <- ev
		}
		ended <- sawEnd
	}()

	err := t.Run(ctx, c.ctl, events)
	cancel()
	<-c.ctl.Done()
	for range events {
	}
	c.archive(<-ended)
	c.log.Info().Err(err).Msg("conversation finished")
	return err
}

func (c *Conversation) archive(closedByAssistant bool) {
	if c.f.Archive == nil {
		return
	}
	rec := storage.NewRecord(c.ID, c.transport, c.started, c.f.now(), closedByAssistant, c.ctl.Snapshot().Transcript)
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := c.f.Archive.Save(ctx, rec); err != nil {
		c.log.Warn().Err(err).Msg("transcript archive failed")
	}
}

func (f *Factory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
