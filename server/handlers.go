package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"

	"captiongen/media"
	"captiongen/pipeline"
	"captiongen/session"
	"captiongen/transcribe"
)

type sessionView struct {
	ID         string        `json:"id"`
	Stage      session.Stage `json:"stage"`
	VideoName  string        `json:"video_name"`
	Format     string        `json:"format"`
	HasAudio   bool          `json:"has_audio"`
	Transcript string        `json:"transcript,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	return sessionView{
		ID:         s.ID,
		Stage:      s.Stage,
		VideoName:  s.VideoName,
		Format:     string(s.Format),
		HasAudio:   s.AudioPath != "",
		Transcript: s.Transcript,
	}
}

// renderError is the single error surface of the API: the message verbatim,
// a failure class, and for decode failures the ffmpeg hint. The session
// stays usable afterwards.
func (s *Server) renderError(c *fiber.Ctx, status int, err error) error {
	class := pipeline.ClassOf(err)
	body := fiber.Map{
		"error": err.Error(),
		"class": string(class),
	}
	if class == pipeline.ClassDecode {
		body["hint"] = pipeline.FFmpegHint
	}
	return c.Status(status).JSON(body)
}

func statusFor(err error) int {
	switch pipeline.ClassOf(err) {
	case pipeline.ClassDecode:
		return fiber.StatusUnprocessableEntity
	case pipeline.ClassNetwork, pipeline.ClassAuth:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) lookup(c *fiber.Ctx) (*session.Session, error) {
	sess, err := s.store.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, s.renderError(c, fiber.StatusNotFound, err)
		}
		return nil, s.renderError(c, fiber.StatusInternalServerError, err)
	}
	return sess, nil
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("video")
	if err != nil {
		return s.renderError(c, fiber.StatusBadRequest, errors.New("missing \"video\" file field"))
	}
	if !media.AllowedExtension(file.Filename) {
		return s.renderError(c, fiber.StatusBadRequest,
			errors.Errorf("unsupported video type %q (accepted: mp4, mov, mkv, webm, avi)", file.Filename))
	}

	src, err := file.Open()
	if err != nil {
		return s.renderError(c, fiber.StatusBadRequest, errors.Wrap(err, "reading upload"))
	}
	defer src.Close()

	videoPath, err := media.SaveUpload(s.cfg.Media.ScratchDir, file.Filename, src)
	if err != nil {
		return s.renderError(c, fiber.StatusBadRequest, err)
	}

	sess := session.New(videoPath, file.Filename)
	if raw := c.FormValue("format"); raw != "" {
		format, err := transcribe.ParseFormat(raw)
		if err != nil {
			return s.renderError(c, fiber.StatusBadRequest, err)
		}
		sess.Format = format
	}

	if err := s.store.Put(c.UserContext(), sess); err != nil {
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}

	token, err := signSessionToken(s.cfg.Session.TokenSecret, sess.ID)
	if err != nil {
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		SameSite: "Lax",
	})

	s.logger.Info("session created", "session", sess.ID, "video", file.Filename)
	return c.Status(fiber.StatusCreated).JSON(viewOf(sess))
}

// handleCurrent resumes the session named by the signed cookie, letting a
// refreshed browser pick up where it left off without re-uploading.
func (s *Server) handleCurrent(c *fiber.Ctx) error {
	raw := c.Cookies(sessionCookie)
	if raw == "" {
		return s.renderError(c, fiber.StatusNotFound, errors.New("no active session"))
	}
	id, err := parseSessionToken(s.cfg.Session.TokenSecret, raw)
	if err != nil {
		return s.renderError(c, fiber.StatusUnauthorized, err)
	}
	sess, err := s.store.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return s.renderError(c, fiber.StatusNotFound, err)
		}
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(viewOf(sess))
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}
	return c.JSON(viewOf(sess))
}

// handleFormat re-selects the caption format. This touches nothing but the
// requested format; in particular an already extracted audio artifact stays
// as it is.
func (s *Server) handleFormat(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}

	var req struct {
		Format string `json:"format"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.renderError(c, fiber.StatusBadRequest, errors.Wrap(err, "parsing request"))
	}
	format, err := transcribe.ParseFormat(req.Format)
	if err != nil {
		return s.renderError(c, fiber.StatusBadRequest, err)
	}

	sess.Format = format
	if err := s.store.Put(c.UserContext(), sess); err != nil {
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(viewOf(sess))
}

func (s *Server) handleExtract(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}
	if sess.Stage == session.StageTranscribe {
		return s.renderError(c, fiber.StatusConflict,
			errors.Wrap(session.ErrBadTransition, "go back before re-extracting"))
	}

	s.hub.Publish(Event{SessionID: sess.ID, Stage: session.StageExtractAudio, Status: StatusStarted})
	audioPath, err := s.extractor.Extract(c.UserContext(), sess.VideoPath)
	if err != nil {
		s.hub.Publish(Event{SessionID: sess.ID, Stage: session.StageExtractAudio, Status: StatusError, Message: err.Error()})
		return s.renderError(c, statusFor(err), err)
	}

	sess.AudioPath = audioPath
	if sess.Stage == session.StageUpload {
		if err := sess.Advance(session.StageExtractAudio); err != nil {
			return s.renderError(c, fiber.StatusConflict, err)
		}
	}
	if err := s.store.Put(c.UserContext(), sess); err != nil {
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}

	s.hub.Publish(Event{SessionID: sess.ID, Stage: session.StageExtractAudio, Status: StatusDone})
	return c.JSON(viewOf(sess))
}

func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}
	if sess.Stage != session.StageExtractAudio || sess.AudioPath == "" {
		return s.renderError(c, fiber.StatusConflict,
			errors.Wrap(session.ErrBadTransition, "extract audio first"))
	}

	s.hub.Publish(Event{SessionID: sess.ID, Stage: session.StageTranscribe, Status: StatusStarted})
	text, err := s.transcriber.Transcribe(c.UserContext(), sess.AudioPath, sess.Format)
	if err != nil {
		s.hub.Publish(Event{SessionID: sess.ID, Stage: session.StageTranscribe, Status: StatusError, Message: err.Error()})
		return s.renderError(c, statusFor(err), err)
	}

	sess.Transcript = text
	if err := sess.Advance(session.StageTranscribe); err != nil {
		return s.renderError(c, fiber.StatusConflict, err)
	}
	if err := s.store.Put(c.UserContext(), sess); err != nil {
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}

	s.hub.Publish(Event{SessionID: sess.ID, Stage: session.StageTranscribe, Status: StatusDone})
	return c.JSON(viewOf(sess))
}

// handleBack is the single manual back-transition: drop the transcript and
// return to the extracted-audio stage, typically to transcribe again with a
// different format.
func (s *Server) handleBack(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}
	if err := sess.Advance(session.StageExtractAudio); err != nil {
		return s.renderError(c, fiber.StatusConflict, err)
	}
	sess.Transcript = ""
	if err := s.store.Put(c.UserContext(), sess); err != nil {
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(viewOf(sess))
}

func (s *Server) handleEditTranscript(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}
	if sess.Stage != session.StageTranscribe {
		return s.renderError(c, fiber.StatusConflict,
			errors.Wrap(session.ErrBadTransition, "nothing transcribed yet"))
	}

	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.renderError(c, fiber.StatusBadRequest, errors.Wrap(err, "parsing request"))
	}

	// The transcript is opaque: no validation, even for srt.
	sess.Transcript = req.Transcript
	if err := s.store.Put(c.UserContext(), sess); err != nil {
		return s.renderError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(viewOf(sess))
}

func (s *Server) handleAudio(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}
	if sess.AudioPath == "" {
		return s.renderError(c, fiber.StatusNotFound, errors.New("no audio extracted yet"))
	}
	return c.SendFile(sess.AudioPath)
}

// handleDownload serves the (possibly edited) transcript byte-for-byte as
// UTF-8 text. ?plain=1 reuses the txt name for an srt transcript, matching
// the extra plain-text download in the interface.
func (s *Server) handleDownload(c *fiber.Ctx) error {
	sess, err := s.lookup(c)
	if sess == nil {
		return err
	}
	if sess.Stage != session.StageTranscribe {
		return s.renderError(c, fiber.StatusConflict,
			errors.Wrap(session.ErrBadTransition, "nothing transcribed yet"))
	}

	name := sess.Format.FileName()
	if c.Query("plain") == "1" {
		name = transcribe.FormatText.FileName()
	}
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.SendString(sess.Transcript)
}

// handleEvents streams stage-progress events for one session until the
// client goes away.
func (s *Server) handleEvents(conn *websocket.Conn) {
	defer conn.Close()

	id := conn.Params("id")
	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
