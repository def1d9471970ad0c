// Package turn runs the turn-taking loop of a voice conversation: it owns the
// microphone, decides when an utterance is finished, hands it to transcription
// and the dialogue engine, plays the reply and reopens the microphone when the
// conversation policy allows.
//
// A Controller is a single event loop. Every input (user commands, sampler ticks,
// timers, device and network completions, playback end) is serialized through
// Run, so no two transitions ever race. Work that blocks runs in goroutines that
// post a completion tagged with the turn token; completions from an abandoned
// turn are ignored.
package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/voiceloop/internal/capture"
	"github.com/chadiek/voiceloop/internal/dialogue"
	"github.com/chadiek/voiceloop/internal/vad"
)

// Capture is the utterance recorder.
type Capture interface {
	Start(ctx context.Context) error
	Stop() <-chan *capture.Clip
	Recording() bool
	Analyser() vad.Source
}

// Transcriber turns a clip into text. Implementations return "" when there is no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, clip *capture.Clip) (string, error)
}

// Exchanger is the dialogue engine.
type Exchanger interface {
	Meaningful(text string) bool
	Exchange(ctx context.Context, req dialogue.Request) (dialogue.Reply, error)
}

// Player plays synthesized replies. The channel from Play closes when playback
// has finished; Stop cuts playback short.
type Player interface {
	Play(ctx context.Context, a dialogue.Audio) (<-chan struct{}, error)
	Stop()
}

// Observer receives turn telemetry.
type Observer interface {
	Transition(from, to State)
	Outcome(outcome string)
	ServiceLatency(op string, d time.Duration, err error)
}

// Turn outcomes reported to the Observer.
const (
	OutcomeIdleTimeout   = "idle_timeout"
	OutcomeManualStop    = "manual_stop"
	OutcomeDeviceError   = "device_error"
	OutcomeClipDiscarded = "clip_discarded"
	OutcomeTranscribeErr = "transcription_failed"
	OutcomeNoSpeech      = "no_speech"
	OutcomeFiller        = "filler"
	OutcomeDialogueErr   = "dialogue_failed"
	OutcomeEnded         = "conversation_ended"
	OutcomeTextReply     = "text_reply"
	OutcomeSpoken        = "spoken_reply"
	OutcomePlaybackErr   = "playback_failed"
	OutcomeCancelled     = "cancelled"
)

// Config tunes the controller. Zero values take the defaults.
type Config struct {
	IdleTimeout        time.Duration // 7s
	Warmup             time.Duration // 300ms between opening the device and sampling
	MinClipBytes       int           // capture.MinClipBytes
	MinTranscriptChars int           // 2
	ServiceTimeout     time.Duration // 30s per collaborator call
	VAD                vad.Params
	Clock              clock.Clock
	// NewSampler creates the periodic sampler for each amplitude session.
	NewSampler func() vad.Sampler
	Observer   Observer
	Logger     *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 7 * time.Second
	}
	if c.Warmup < 0 {
		c.Warmup = 0
	} else if c.Warmup == 0 {
		c.Warmup = 300 * time.Millisecond
	}
	if c.MinClipBytes <= 0 {
		c.MinClipBytes = capture.MinClipBytes
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = 2
	}
	if c.ServiceTimeout <= 0 {
		c.ServiceTimeout = 30 * time.Second
	}
	if c.VAD == (vad.Params{}) {
		c.VAD = vad.DefaultParams()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.NewSampler == nil {
		clk := c.Clock
		c.NewSampler = func() vad.Sampler { return vad.NewTickerSampler(clk, vad.FrameInterval) }
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Logger == nil {
		c.Logger = &log.Logger
	}
	return c
}

type nopObserver struct{}

func (nopObserver) Transition(State, State)                     {}
func (nopObserver) Outcome(string)                              {}
func (nopObserver) ServiceLatency(string, time.Duration, error) {}

// Controller is the turn-taking state machine for one conversation.
type Controller struct {
	cfg         Config
	log         zerolog.Logger
	capture     Capture
	transcriber Transcriber
	exchanger   Exchanger
	player      Player

	cmds    chan any
	results chan any
	events  chan Event
	done    chan struct{}

	// owned by the Run goroutine
	ctx        context.Context
	state      State
	mode       Mode
	token      uint64
	turnCtx    context.Context
	turnCancel context.CancelFunc
	opening    bool
	recording  bool
	playing    bool
	monitor    *vad.Monitor
	idle       *timerSlot
	warmup     *timerSlot
	transcript []Entry

	mu   sync.Mutex
	snap Snapshot
}

// New builds a controller. Call Run to start it.
func New(cfg Config, c Capture, t Transcriber, x Exchanger, p Player) *Controller {
	cfg = cfg.withDefaults()
	ctl := &Controller{
		cfg:         cfg,
		log:         *cfg.Logger,
		capture:     c,
		transcriber: t,
		exchanger:   x,
		player:      p,
		cmds:        make(chan any, 16),
		results:     make(chan any, 64),
		events:      make(chan Event, 256),
		done:        make(chan struct{}),
	}
	ctl.idle = &timerSlot{kind: idleTimer, clk: cfg.Clock, post: ctl.post}
	ctl.warmup = &timerSlot{kind: warmupTimer, clk: cfg.Clock, post: ctl.post}
	return ctl
}

type (
	pressMicCmd struct{}
	stopCmd     struct{}
	submitCmd   struct {
		text string
		resp chan error
	}

	deviceOpened struct {
		token uint64
		err   error
	}
	clipReady struct {
		token uint64
		clip  *capture.Clip
	}
	transcribed struct {
		token uint64
		text  string
		err   error
	}
	replied struct {
		token uint64
		voice bool
		user  string
		reply dialogue.Reply
		err   error
	}
	playbackEnded struct {
		token uint64
		err   error
	}
)

// PressMic toggles the microphone: from Idle it enables voice mode and starts
// listening, while Listening it acts as Stop.
func (c *Controller) PressMic() { c.command(pressMicCmd{}) }

// Stop is the manual interruption. It clears MicAllowed, abandons any in-flight
// turn and cuts playback.
func (c *Controller) Stop() { c.command(stopCmd{}) }

// SubmitText sends a typed utterance. It is accepted while Idle or Listening
// (listening is abandoned first) and refused with ErrBusy otherwise.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	resp := make(chan error, 1)
	select {
	case c.cmds <- submitCmd{text: text, resp: resp}:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events streams UI events. It is closed when Run returns.
func (c *Controller) Events() <-chan Event { return c.events }

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns the state as of the last processed event.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Transcript = append([]Entry(nil), c.snap.Transcript...)
	return s
}

func (c *Controller) command(cmd any) {
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

func (c *Controller) post(r any) {
	select {
	case c.results <- r:
	case <-c.done:
	}
}

// Run processes events until ctx is cancelled. It releases the device and the
// player on the way out.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.turnCtx, c.turnCancel = context.WithCancel(ctx)
	c.publish()
	defer c.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case r := <-c.results:
			c.handleResult(r)
		case <-c.monitor.C():
			c.onSample()
		}
		c.publish()
	}
}

func (c *Controller) shutdown() {
	c.monitor.Stop()
	c.idle.Cancel()
	c.warmup.Cancel()
	c.turnCancel()
	if c.opening || c.recording {
		discard(c.capture.Stop())
	}
	if c.playing {
		c.player.Stop()
	}
	close(c.done)
	close(c.events)
}

func (c *Controller) handleCommand(cmd any) {
	switch cmd := cmd.(type) {
	case pressMicCmd:
		c.onPressMic()
	case stopCmd:
		c.onStop()
	case submitCmd:
		cmd.resp <- c.onSubmit(cmd.text)
	}
}

func (c *Controller) handleResult(r any) {
	switch r := r.(type) {
	case timerFired:
		c.onTimer(r)
	case deviceOpened:
		c.onDeviceOpened(r)
	case clipReady:
		c.onClip(r)
	case transcribed:
		c.onTranscript(r)
	case replied:
		c.onReply(r)
	case playbackEnded:
		c.onPlaybackEnded(r)
	}
}

func (c *Controller) onPressMic() {
	switch c.state {
	case Listening:
		c.stopListening(OutcomeManualStop)
	case Idle:
		c.mode = Mode{VoiceModeEnabled: true, MicAllowed: true}
		c.startListening()
	default:
		c.log.Debug().Stringer("state", c.state).Msg("mic press ignored while a turn is in flight")
	}
}

func (c *Controller) onStop() {
	switch c.state {
	case Idle:
		c.mode = Mode{}
	case Listening:
		c.stopListening(OutcomeManualStop)
	case Finalizing, Transcribing:
		c.mode.MicAllowed = false
		c.abandonTurn()
		c.cfg.Observer.Outcome(OutcomeCancelled)
		c.setState(Idle)
	case Exchanging:
		// the reply is still shown when it arrives, but never played
		c.mode = Mode{}
	case Speaking:
		c.mode = Mode{}
		c.player.Stop()
		c.playing = false
		c.abandonTurn()
		c.cfg.Observer.Outcome(OutcomeCancelled)
		c.setState(Idle)
	}
}

func (c *Controller) onSubmit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	switch c.state {
	case Idle:
	case Listening:
		c.stopListening(OutcomeManualStop)
	default:
		return ErrBusy
	}
	if !c.exchanger.Meaningful(text) {
		c.cfg.Observer.Outcome(OutcomeFiller)
		return dialogue.ErrNotMeaningful
	}
	c.newTurn()
	c.beginExchange(text, false)
	return nil
}

// newTurn invalidates every completion of the previous turn.
func (c *Controller) newTurn() {
	c.turnCancel()
	c.token++
	c.turnCtx, c.turnCancel = context.WithCancel(c.ctx)
}

func (c *Controller) abandonTurn() { c.newTurn() }

func (c *Controller) startListening() {
	if !c.mode.MicAllowed || c.playing {
		return
	}
	c.newTurn()
	c.setState(Listening)
	c.opening = true
	token, ctx := c.token, c.turnCtx
	go func() {
		err := c.capture.Start(ctx)
		c.post(deviceOpened{token: token, err: err})
	}()
}

func (c *Controller) onDeviceOpened(r deviceOpened) {
	if r.token != c.token || c.state != Listening || !c.opening {
		if r.err == nil {
			discard(c.capture.Stop())
		}
		return
	}
	c.opening = false
	if r.err != nil {
		c.log.Warn().Err(r.err).Msg("microphone unavailable")
		c.emit(ErrorEvent{Err: r.err})
		c.mode = Mode{}
		c.cfg.Observer.Outcome(OutcomeDeviceError)
		c.setState(Idle)
		return
	}
	if !c.mode.MicAllowed {
		discard(c.capture.Stop())
		c.setState(Idle)
		return
	}
	c.recording = true
	c.emit(RecordingEvent{Recording: true})
	c.idle.Arm(c.cfg.IdleTimeout)
	c.warmup.Arm(c.cfg.Warmup)
}

func (c *Controller) listening() bool {
	return c.state == Listening && c.recording && c.mode.MicAllowed
}

func (c *Controller) onTimer(f timerFired) {
	switch f.kind {
	case idleTimer:
		if !c.idle.Claim(f) || !c.listening() {
			return
		}
		c.log.Debug().Msg("idle timeout")
		c.stopListening(OutcomeIdleTimeout)
	case warmupTimer:
		if !c.warmup.Claim(f) || !c.listening() {
			return
		}
		src := c.capture.Analyser()
		if src == nil {
			return
		}
		c.monitor.Stop()
		c.monitor = vad.NewMonitor(src, c.cfg.NewSampler(), c.cfg.VAD, c.listening)
	}
}

func (c *Controller) onSample() {
	f, ok := c.monitor.Sample()
	if !ok {
		return
	}
	if f.Voiced {
		c.idle.Cancel()
	} else if !c.idle.Armed() && !f.EndOfSpeech {
		c.idle.Arm(c.cfg.IdleTimeout)
	}
	if f.EndOfSpeech {
		c.log.Debug().Int("voiced", f.VoicedFrames).Int("silent", f.SilentFrames).Msg("end of speech")
		c.finalize()
	}
}

// releaseMic tears down the amplitude session and timers and stops capture.
func (c *Controller) releaseMic() <-chan *capture.Clip {
	c.monitor.Stop()
	c.idle.Cancel()
	c.warmup.Cancel()
	wasOpen := c.opening || c.recording
	c.opening = false
	if c.recording {
		c.recording = false
		c.emit(RecordingEvent{Recording: false})
	}
	if !wasOpen {
		return nil
	}
	return c.capture.Stop()
}

// stopListening handles manual stop and idle timeout: the mic is disallowed and
// the clip never reaches the network.
func (c *Controller) stopListening(outcome string) {
	c.mode.MicAllowed = false
	if ch := c.releaseMic(); ch != nil {
		discard(ch)
	}
	c.abandonTurn()
	c.cfg.Observer.Outcome(outcome)
	c.setState(Idle)
}

func (c *Controller) finalize() {
	ch := c.releaseMic()
	c.setState(Finalizing)
	token := c.token
	go func() {
		var clip *capture.Clip
		if ch != nil {
			clip = <-ch
		}
		c.post(clipReady{token: token, clip: clip})
	}()
}

func (c *Controller) onClip(r clipReady) {
	if r.token != c.token || c.state != Finalizing {
		return
	}
	if !r.clip.Viable(c.cfg.MinClipBytes) || !c.mode.VoiceModeEnabled || !c.mode.MicAllowed {
		c.log.Debug().Int("bytes", r.clip.Size()).Msg("clip discarded")
		c.cfg.Observer.Outcome(OutcomeClipDiscarded)
		c.setState(Idle)
		return
	}
	c.setState(Transcribing)
	token, ctx, clip := c.token, c.turnCtx, r.clip
	go func() {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.ServiceTimeout)
		defer cancel()
		start := c.cfg.Clock.Now()
		text, err := c.transcriber.Transcribe(ctx, clip)
		c.cfg.Observer.ServiceLatency("transcribe", c.cfg.Clock.Since(start), err)
		c.post(transcribed{token: token, text: text, err: err})
	}()
}

func (c *Controller) onTranscript(r transcribed) {
	if r.token != c.token || c.state != Transcribing {
		return
	}
	if r.err != nil {
		c.log.Warn().Err(&ServiceError{Op: "transcribe", Err: r.err}).Msg("turn dropped")
		c.cfg.Observer.Outcome(OutcomeTranscribeErr)
		c.setState(Idle)
		return
	}
	text := strings.TrimSpace(r.text)
	if len([]rune(text)) < c.cfg.MinTranscriptChars {
		c.cfg.Observer.Outcome(OutcomeNoSpeech)
		c.setState(Idle)
		return
	}
	if !c.exchanger.Meaningful(text) {
		c.log.Debug().Str("text", text).Msg("filler dropped")
		c.cfg.Observer.Outcome(OutcomeFiller)
		c.setState(Idle)
		return
	}
	if !c.mode.VoiceModeEnabled || !c.mode.MicAllowed {
		c.setState(Idle)
		return
	}
	c.beginExchange(text, true)
}

func (c *Controller) beginExchange(text string, voice bool) {
	c.mode.MicAllowed = false
	c.setState(Exchanging)
	token, ctx := c.token, c.turnCtx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.ServiceTimeout)
		defer cancel()
		start := c.cfg.Clock.Now()
		reply, err := c.exchanger.Exchange(ctx, dialogue.Request{Text: text, Voice: voice})
		c.cfg.Observer.ServiceLatency("exchange", c.cfg.Clock.Since(start), err)
		c.post(replied{token: token, voice: voice, user: text, reply: reply, err: err})
	}()
}

func (c *Controller) onReply(r replied) {
	if r.token != c.token || c.state != Exchanging {
		return
	}
	if r.err != nil {
		outcome := OutcomeDialogueErr
		if errors.Is(r.err, dialogue.ErrNotMeaningful) {
			outcome = OutcomeFiller
		} else {
			c.log.Warn().Err(&ServiceError{Op: "exchange", Err: r.err}).Msg("turn dropped")
		}
		c.cfg.Observer.Outcome(outcome)
		c.setState(Idle)
		return
	}
	c.appendEntry(Entry{Speaker: User, Text: r.user})
	c.appendEntry(Entry{Speaker: Assistant, Text: r.reply.Text})

	switch {
	case r.reply.End:
		c.mode = Mode{}
		c.emit(EndEvent{})
		c.cfg.Observer.Outcome(OutcomeEnded)
		c.setState(Idle)
	case r.voice && r.reply.Audio != nil && c.mode.VoiceModeEnabled:
		c.speak(*r.reply.Audio)
	default:
		c.cfg.Observer.Outcome(OutcomeTextReply)
		c.setState(Idle)
	}
}

func (c *Controller) speak(a dialogue.Audio) {
	if c.capture.Recording() {
		discard(c.capture.Stop())
	}
	c.mode.MicAllowed = false
	c.playing = true
	c.setState(Speaking)
	token, ctx := c.token, c.turnCtx
	go func() {
		ended, err := c.player.Play(ctx, a)
		if err == nil {
			select {
			case <-ended:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		c.post(playbackEnded{token: token, err: err})
	}()
}

func (c *Controller) onPlaybackEnded(r playbackEnded) {
	if r.token != c.token || c.state != Speaking {
		return
	}
	c.playing = false
	if r.err != nil {
		c.log.Warn().Err(&ServiceError{Op: "playback", Err: r.err}).Msg("turn dropped")
		c.cfg.Observer.Outcome(OutcomePlaybackErr)
		c.setState(Idle)
		return
	}
	c.cfg.Observer.Outcome(OutcomeSpoken)
	c.setState(Idle)
	if c.mode.VoiceModeEnabled {
		c.mode.MicAllowed = true
		c.startListening()
	}
}

func (c *Controller) setState(to State) {
	if to == c.state {
		return
	}
	from := c.state
	c.state = to
	c.cfg.Observer.Transition(from, to)
	c.log.Debug().Stringer("from", from).Stringer("to", to).
		Bool("voice_mode", c.mode.VoiceModeEnabled).Bool("mic_allowed", c.mode.MicAllowed).
		Msg("turn state")
	c.emit(StateEvent{From: from, To: to, Mode: c.mode})
}

func (c *Controller) appendEntry(e Entry) {
	c.transcript = append(c.transcript, e)
	c.emit(TranscriptEvent{Entry: e})
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn().Msgf("event buffer full, dropping %T", e)
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	c.snap = Snapshot{
		State:      c.state,
		Mode:       c.mode,
		Recording:  c.recording,
		Playing:    c.playing,
		Transcript: c.transcript,
	}
	c.mu.Unlock()
}

// discard drains a clip future nobody will use.
func discard(ch <-chan *capture.Clip) {
	go func() {
		for range ch {
		}
	}()
}
