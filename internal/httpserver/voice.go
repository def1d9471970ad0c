package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/voiceloop/internal/rtc"
	"github.com/chadiek/voiceloop/internal/wsconn"
)

// voiceSocket upgrades to a websocket and holds the conversation for the
// lifetime of the connection.
func (s *Server) voiceSocket(c echo.Context) error {
	conn, err := wsconn.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("ws upgrade failed")
		return nil
	}
	logger := s.log.With().Str("transport", "ws").Logger()
	session := wsconn.NewSession(conn, logger)
	conv := s.deps.Conversations.New("ws", session.Device(), session.Player())

	s.wg.Add(1)
	defer s.wg.Done()
	if err := conv.Serve(s.base, session); err != nil {
		logger.Debug().Err(err).Str("conversation", conv.ID).Msg("ws session closed")
	}
	return nil
}

// rtcOffer answers a WebRTC offer and runs the call in the background until
// the peer disconnects.
func (s *Server) rtcOffer(c echo.Context) error {
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
	}
	if offer.Type != "offer" || offer.SDP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
	}
	logger := s.log.With().Str("transport", "rtc").Logger()
	peer, err := rtc.NewPeer(s.deps.ICEServersJSON, logger)
	if err != nil {
		logger.Error().Err(err).Msg("peer setup failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "peer setup failed")
	}
	answer, err := peer.Answer(offer)
	if err != nil {
		peer.Close()
		logger.Warn().Err(err).Msg("webrtc handle offer failed")
		return echo.NewHTTPError(http.StatusBadRequest, "offer rejected")
	}

	conv := s.deps.Conversations.New("rtc", peer.Device(), peer.Player())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := conv.Serve(s.base, peer); err != nil {
			logger.Debug().Err(err).Str("conversation", conv.ID).Msg("rtc call closed")
		}
	}()
	return c.JSON(http.StatusOK, answer)
}
