package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// sessionError maps a session or controller error to its HTTP status and error code.
func sessionError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, backend.ErrTestNotFound):
		return http.StatusNotFound, response.ErrTestNotFound
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized, response.ErrTokenInvalid
	case errors.Is(err, proctor.ErrFetchFailed):
		return http.StatusBadGateway, response.ErrTestUnavailable
	case errors.Is(err, service.ErrSessionFinished):
		return http.StatusConflict, response.ErrSessionFinished
	case errors.Is(err, proctor.ErrSessionClosed), errors.Is(err, proctor.ErrLoopClosed):
		// The live session was torn down (restart or eviction); reopening resumes it.
		return http.StatusServiceUnavailable, response.ErrServiceRestarting
	case errors.Is(err, service.ErrSessionNotOpen), errors.Is(err, proctor.ErrNotLoaded):
		return http.StatusNotFound, response.ErrSessionNotOpen
	case errors.Is(err, proctor.ErrAlreadyStarted):
		return http.StatusConflict, response.ErrSessionAlreadyStarted
	case errors.Is(err, proctor.ErrNotRunning):
		return http.StatusConflict, response.ErrSessionNotRunning
	case errors.Is(err, proctor.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, proctor.ErrFullscreenRequired), errors.Is(err, proctor.ErrNoClient):
		return http.StatusConflict, response.ErrFullscreenRequired
	case errors.Is(err, proctor.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrQuestionOutOfRange
	case errors.Is(err, model.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrInvalidAnswer
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, response.ErrTestUnavailable
	}
	return http.StatusInternalServerError, response.ErrInternal
}
