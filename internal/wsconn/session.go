// Package wsconn carries a voice conversation over a single websocket: JSON
// control messages as text frames and microphone PCM (16kHz mono, little endian)
// as binary frames.
package wsconn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceloop/internal/protocol"
	"github.com/chadiek/voiceloop/internal/turn"
)

const writeWait = 5 * time.Second

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// the session gate runs before the upgrade
		return true
	},
}

// Session is one client connection. It provides the capture device and the
// player for the conversation's controller.
type Session struct {
	conn   *websocket.Conn
	log    zerolog.Logger
	device *Device
	player *Player

	writeMu sync.Mutex
}

func NewSession(conn *websocket.Conn, logger zerolog.Logger) *Session {
	s := &Session{conn: conn, log: logger}
	s.device = newDevice(s.Send, logger)
	s.player = newPlayer(s.Send)
	return s
}

func (s *Session) Device() *Device { return s.device }

func (s *Session) Player() *Player { return s.player }

// Send writes one control message. Safe for concurrent use.
func (s *Session) Send(e protocol.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(e)
}

// Run reads client frames and relays controller events until the connection
// closes or ctx ends. Pending captures and playbacks are released on return.
func (s *Session) Run(ctx context.Context, ctl protocol.Controller, events <-chan turn.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.player.Close()
	defer s.device.Close()

	go protocol.Relay(ctx, events, s.Send, s.log)
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		switch mt {
		case websocket.BinaryMessage:
			s.device.push(data)
		case websocket.TextMessage:
			e, derr := protocol.Decode(data)
			if derr != nil {
				s.log.Debug().Err(derr).Msg("ws: bad control frame")
				continue
			}
			s.handle(ctx, ctl, e)
		}
	}
}

func (s *Session) handle(ctx context.Context, ctl protocol.Controller, e protocol.Envelope) {
	switch e.Type {
	case protocol.TypeCaptureStarted:
		s.device.started(e.CaptureID)
	case protocol.TypeCaptureError:
		s.device.failed(e.CaptureID, errors.New(e.Error))
	case protocol.TypeCaptureStopped:
		s.device.stopped(e.CaptureID)
	case protocol.TypePlaybackEnded:
		s.player.ended(e.PlaybackID)
	default:
		if err := protocol.Dispatch(ctx, ctl, e, s.Send); err != nil {
			s.log.Debug().Err(err).Msg("ws: ignored message")
		}
	}
}
