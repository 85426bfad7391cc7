package proctor

import "errors"

var (
	ErrLoopClosed         = errors.New("session loop is closed")
	ErrNotLoaded          = errors.New("test content not loaded")
	ErrAlreadyStarted     = errors.New("session already started")
	ErrNotRunning         = errors.New("session is not running")
	ErrIndexOutOfRange    = errors.New("question index out of range")
	ErrFetchFailed        = errors.New("fetch test content failed")
	ErrFullscreenRequired = errors.New("fullscreen could not be entered")
	ErrNoClient           = errors.New("no client attached to session")
	ErrAlreadySubmitted   = errors.New("session already submitted")
	ErrSessionClosed      = errors.New("session is closed")
)
