package httpserver

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/voiceloop/internal/auth"
	"github.com/chadiek/voiceloop/internal/capture"
	"github.com/chadiek/voiceloop/internal/dialogue"
)

// maxUploadBytes bounds /api/transcribe uploads.
const maxUploadBytes = 25 << 20

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) login(c echo.Context) error {
	if !s.deps.Gate.Enabled() {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	cookie, err := s.deps.Gate.Login(req.Password, c.RealIP())
	switch {
	case errors.Is(err, auth.ErrThrottled):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, auth.ErrBadPassword):
		return echo.NewHTTPError(http.StatusUnauthorized, "wrong password")
	case err != nil:
		return err
	}
	c.SetCookie(cookie)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) logout(c echo.Context) error {
	c.SetCookie(auth.LogoutCookie())
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type chatRequest struct {
	Message   string `json:"message"`
	VoiceMode bool   `json:"voiceMode"`
}

type chatResponse struct {
	Text      string `json:"text"`
	Audio     string `json:"audio,omitempty"`
	AudioMIME string `json:"audioMime,omitempty"`
	ShouldEnd bool   `json:"shouldEnd"`
}

// chatMessage is a single stateless exchange for clients that drive their own
// turn-taking.
func (s *Server) chatMessage(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	reply, err := s.chat.Exchange(c.Request().Context(), dialogue.Request{Text: req.Message, Voice: req.VoiceMode})
	if errors.Is(err, dialogue.ErrNotMeaningful) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "message too short")
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("chat exchange failed")
		return echo.NewHTTPError(http.StatusBadGateway, "assistant unavailable")
	}
	resp := chatResponse{Text: reply.Text, ShouldEnd: reply.End}
	if reply.Audio != nil {
		resp.Audio = base64.StdEncoding.EncodeToString(reply.Audio.Data)
		resp.AudioMIME = reply.Audio.MIME
	}
	return c.JSON(http.StatusOK, resp)
}

// transcribe accepts a recorded clip as the multipart field "file". Clips below
// the size floor and transcription failures both answer with empty text.
func (s *Server) transcribe(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}

	clip := &capture.Clip{Data: data, MIME: clipMIME(fh.Header.Get(echo.HeaderContentType))}
	if !clip.Viable(s.deps.MinClipBytes) {
		return c.JSON(http.StatusOK, map[string]string{"text": ""})
	}
	text, err := s.deps.Conversations.Transcriber.Transcribe(c.Request().Context(), clip)
	if err != nil {
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("transcription failed")
		text = ""
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

func clipMIME(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	switch mt = strings.TrimSpace(strings.ToLower(mt)); mt {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio/wav"
	case "audio/ogg", "audio/mpeg":
		return mt
	default:
		return "audio/webm"
	}
}
