package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// SnapshotStore reads the last recorded snapshot of a session.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, testID string, studentID int) (*model.SessionSnapshot, error)
}

// SessionHandler serves the REST side of a student's exam session.
type SessionHandler struct {
	sessions  *service.SessionService
	snapshots SnapshotStore
	log       zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, snapshots SnapshotStore, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		snapshots: snapshots,
		log:       log.With().Str("component", "session_handler").Logger(),
	}
}

// SessionView is what the student sees before and during the exam. Questions
// are only included once the session has started.
type SessionView struct {
	Live           bool                       `json:"live"`
	Info           *model.SessionInfo         `json:"info,omitempty"`
	Threshold      int                        `json:"threshold"`
	RestrictedKeys []string                   `json:"restricted_keys,omitempty"`
	Snapshot       model.SessionSnapshot      `json:"snapshot"`
	Questions      []model.QuestionForStudent `json:"questions,omitempty"`
}

// viewOf runs on the session loop.
func viewOf(c *proctor.Controller) *SessionView {
	info := c.Info()
	v := &SessionView{
		Live:           true,
		Info:           &info,
		Threshold:      c.Threshold(),
		RestrictedKeys: c.RestrictedKeys(),
		Snapshot:       c.Snapshot(),
	}
	if c.Phase() != model.PhaseNotStarted {
		v.Questions = c.Questions()
	}
	return v
}

// principal builds the session owner from the authenticated request.
func principal(c *gin.Context) (proctor.Principal, bool) {
	claims := middleware.GetClaims(c)
	testID := strings.TrimSpace(c.Param("test_id"))
	if claims == nil || testID == "" {
		return proctor.Principal{}, false
	}
	return proctor.Principal{
		TestID:    testID,
		StudentID: claims.UserID,
		Token:     middleware.GetToken(c),
	}, true
}

// OpenSession godoc
// POST /api/v1/student/tests/:test_id/session
// Loads the test and returns the pre-start screen. A failed fetch answers 502
// and may be retried; reopening a running session returns its current state.
func (h *SessionHandler) OpenSession(c *gin.Context) {
	who, ok := principal(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ls, err := h.sessions.Open(c.Request.Context(), who)
	if err != nil {
		h.fail(c, who, err)
		return
	}

	var view *SessionView
	if err := ls.Do(c.Request.Context(), func(ctrl *proctor.Controller) error {
		view = viewOf(ctrl)
		return nil
	}); err != nil {
		h.fail(c, who, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GetSession godoc
// GET /api/v1/student/tests/:test_id/session
// Returns the live view, or the last recorded snapshot when the session is not
// hosted by this instance.
func (h *SessionHandler) GetSession(c *gin.Context) {
	who, ok := principal(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ls, err := h.sessions.Get(who.TestID, who.StudentID)
	if errors.Is(err, service.ErrSessionNotOpen) {
		snap, snapErr := h.snapshots.GetSnapshot(c.Request.Context(), who.TestID, who.StudentID)
		switch {
		case snapErr == nil:
			response.Success(c, http.StatusOK, &SessionView{Threshold: snap.Threshold, Snapshot: *snap})
		case errors.Is(snapErr, repository.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotOpen)
		default:
			h.fail(c, who, snapErr)
		}
		return
	}
	if err != nil {
		h.fail(c, who, err)
		return
	}

	var view *SessionView
	if err := ls.Do(c.Request.Context(), func(ctrl *proctor.Controller) error {
		if !ctrl.Loaded() {
			return proctor.ErrNotLoaded
		}
		view = viewOf(ctrl)
		return nil
	}); err != nil {
		h.fail(c, who, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GetSummary godoc
// GET /api/v1/student/tests/:test_id/session/summary
// Counts answered, review, unanswered and unvisited questions for the submit prompt.
func (h *SessionHandler) GetSummary(c *gin.Context) {
	who, ok := principal(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ls, err := h.sessions.Get(who.TestID, who.StudentID)
	if err != nil {
		h.fail(c, who, err)
		return
	}

	var summary model.SubmitSummary
	if err := ls.Do(c.Request.Context(), func(ctrl *proctor.Controller) (err error) {
		summary, err = ctrl.Summary()
		return err
	}); err != nil {
		h.fail(c, who, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

func (h *SessionHandler) fail(c *gin.Context, who proctor.Principal, err error) {
	status, code := sessionError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("test_id", who.TestID).
			Int("student_id", who.StudentID).
			Msg("Session request failed")
	}
	response.Fail(c, status, code)
}
