// Package dialogue turns one user utterance into the assistant's reply: it filters
// filler, calls the completion model, reads the end-of-conversation marker and
// synthesizes speech when policy asks for it.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotMeaningful means the utterance was filler and no model was called.
	ErrNotMeaningful = errors.New("dialogue: utterance not meaningful")
	// ErrMalformedMarker means the reply carried no readable control marker.
	ErrMalformedMarker = errors.New("dialogue: malformed control marker")
	// ErrEmptyReply means the model answered with nothing visible.
	ErrEmptyReply = errors.New("dialogue: empty reply")
)

// Role of a conversation message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to the completion model.
type Message struct {
	Role    string
	Content string
}

// Request is a user utterance. Voice marks turns that came from the microphone.
type Request struct {
	Text  string
	Voice bool
}

// Audio is a synthesized reply.
type Audio struct {
	Data []byte
	MIME string
}

// Reply is what the assistant said. Audio is nil when nothing should be played.
type Reply struct {
	Text  string
	End   bool
	Audio *Audio
}

// Completer produces the raw assistant reply for a message list.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Synthesizer turns reply text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// SpeechPolicy decides which replies are synthesized.
type SpeechPolicy int

const (
	// SpeakVoiceTurns synthesizes replies to voice turns only.
	SpeakVoiceTurns SpeechPolicy = iota
	// SpeakVoiceTurnsAndClosings also synthesizes closing replies to typed turns.
	SpeakVoiceTurnsAndClosings
)

// ParseSpeechPolicy maps a config flag onto a policy.
func ParseSpeechPolicy(speakClosings bool) SpeechPolicy {
	if speakClosings {
		return SpeakVoiceTurnsAndClosings
	}
	return SpeakVoiceTurns
}

func (p SpeechPolicy) shouldSpeak(voice, end bool) bool {
	return voice || (end && p == SpeakVoiceTurnsAndClosings)
}

// Exchange is the dialogue engine for one conversation. It keeps a bounded history
// of completed exchanges so the model sees recent context.
type Exchange struct {
	completer  Completer
	synth      Synthesizer
	filter     Filter
	policy     SpeechPolicy
	prompt     string
	maxHistory int

	mu      sync.Mutex
	history []Message
}

// Option configures an Exchange.
type Option func(*Exchange)

func WithFilter(f Filter) Option { return func(e *Exchange) { e.filter = f } }

func WithSpeechPolicy(p SpeechPolicy) Option { return func(e *Exchange) { e.policy = p } }

func WithSystemPrompt(prompt string) Option { return func(e *Exchange) { e.prompt = prompt } }

// WithHistory keeps the last n user/assistant pairs; 0 sends single turns.
func WithHistory(n int) Option { return func(e *Exchange) { e.maxHistory = n } }

// New builds an exchange. synth may be nil, in which case replies are text only.
func New(c Completer, synth Synthesizer, opts ...Option) *Exchange {
	e := &Exchange{
		completer:  c,
		synth:      synth,
		filter:     DefaultFilter(),
		prompt:     SystemPrompt,
		maxHistory: 10,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Meaningful applies the filler filter.
func (e *Exchange) Meaningful(text string) bool { return e.filter.Meaningful(text) }

// Exchange runs one turn. Filler returns ErrNotMeaningful before any network
// call. A synthesis failure degrades to a text-only reply.
func (e *Exchange) Exchange(ctx context.Context, req Request) (Reply, error) {
	text := strings.TrimSpace(req.Text)
	if !e.filter.Meaningful(text) {
		return Reply{}, ErrNotMeaningful
	}

	raw, err := e.completer.Complete(ctx, e.messages(text))
	if err != nil {
		return Reply{}, fmt.Errorf("completion: %w", err)
	}
	visible, end, merr := ExtractControl(raw)
	if merr != nil {
		log.Debug().Err(merr).Msg("dialogue: continuing without end flag")
	}
	if visible == "" {
		return Reply{}, ErrEmptyReply
	}
	e.remember(text, visible)

	reply := Reply{Text: visible, End: end}
	if e.synth != nil && e.policy.shouldSpeak(req.Voice, end) {
		a, serr := e.synth.Synthesize(ctx, visible)
		if serr != nil {
			log.Warn().Err(serr).Msg("dialogue: synthesis failed, replying with text only")
		} else if len(a.Data) > 0 {
			reply.Audio = &a
		}
	}
	return reply, nil
}

// History returns a copy of the remembered messages.
func (e *Exchange) History() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Exchange) messages(user string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := make([]Message, 0, len(e.history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: e.prompt})
	msgs = append(msgs, e.history...)
	return append(msgs, Message{Role: RoleUser, Content: user})
}

func (e *Exchange) remember(user, assistant string) {
	if e.maxHistory <= 0 {
		return
	}
	e.mu.Lock()
	e.history = append(e.history, Message{Role: RoleUser, Content: user}, Message{Role: RoleAssistant, Content: assistant})
	if limit := e.maxHistory * 2; len(e.history) > limit {
		e.history = e.history[len(e.history)-limit:]
	}
	e.mu.Unlock()
}
