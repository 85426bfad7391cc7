package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorFeed is the Redis side of the live monitor.
type MonitorFeed interface {
	SnapshotStore
	SubscribeMonitor(ctx context.Context, testID string) *redis.PubSub
}

// MonitorHandler serves the proctor dashboard: a live event stream per test,
// the durable violation log and per-student session status.
type MonitorHandler struct {
	feed           MonitorFeed
	monitorService *service.MonitorService
	authService    *service.AuthService
	log            zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

func NewMonitorHandler(
	feed MonitorFeed,
	monitorService *service.MonitorService,
	authService *service.AuthService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		feed:           feed,
		monitorService: monitorService,
		authService:    authService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

type monitorSnapshot struct {
	Type            string                  `json:"type"`
	TestID          string                  `json:"test_id"`
	InProgress      int                     `json:"total_in_progress"`
	TotalViolations int64                   `json:"total_violations"`
	Students        []model.StudentProgress `json:"students"`
}

// MonitorTestSSE godoc
// GET /api/v1/admin/tests/:test_id/monitor
// Sends a progress snapshot, then relays every monitor event published for the
// test, with a periodic progress refresh and a keepalive ping.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	testID := strings.TrimSpace(c.Param("test_id"))
	if testID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	reqCtx := c.Request.Context()

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.feed.SubscribeMonitor(reqCtx, testID)
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("test_id", testID).Msg("Failed to subscribe to monitor channel")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	hasStudents := h.sendProgress(c, reqCtx, testID, "snapshot")

	keepAliveTicker := time.NewTicker(h.keepAliveEvery)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(h.refreshEvery)
	defer refreshTicker.Stop()

	h.log.Info().Str("test_id", testID).Msg("Admin attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("test_id", testID).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward the published JSON as is.
			writeSSE(c, msg.Payload)
			hasStudents = true

		case <-refreshTicker.C:
			if !hasStudents {
				continue
			}
			h.sendProgress(c, reqCtx, testID, "refresh")

		case <-keepAliveTicker.C:
			writeSSE(c, `{"type":"ping"}`)
		}
	}
}

// sendProgress writes the current per-student progress and reports whether any student is in progress.
func (h *MonitorHandler) sendProgress(c *gin.Context, parent context.Context, testID, kind string) bool {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetStudentProgress(ctx, testID)
	if err != nil {
		h.log.Warn().Err(err).Str("test_id", testID).Msg("Failed to fetch student progress")
		progress = &service.ProgressSnapshot{Students: []model.StudentProgress{}}
	}

	c.SSEvent("message", monitorSnapshot{
		Type:            kind,
		TestID:          testID,
		InProgress:      len(progress.Students),
		TotalViolations: progress.TotalViolations,
		Students:        progress.Students,
	})
	c.Writer.Flush()
	return len(progress.Students) > 0
}

func writeSSE(c *gin.Context, payload string) {
	_, _ = c.Writer.WriteString("data: ")
	_, _ = c.Writer.WriteString(payload)
	_, _ = c.Writer.WriteString("\n\n")
	c.Writer.Flush()
}

// ListViolations godoc
// GET /api/v1/admin/tests/:test_id/violations?student_id=&page=&per_page=
// GET /api/v1/admin/tests/:test_id/students/:student_id/violations
func (h *MonitorHandler) ListViolations(c *gin.Context) {
	testID := strings.TrimSpace(c.Param("test_id"))
	if testID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	studentID := 0
	raw := c.Param("student_id")
	if raw == "" {
		raw = c.Query("student_id")
	}
	if raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		studentID = id
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	page, perPage = service.PageBounds(page, perPage)

	logs, total, err := h.monitorService.ListViolations(c.Request.Context(), testID, studentID, page, perPage)
	if err != nil {
		h.log.Error().Err(err).Str("test_id", testID).Msg("Failed to list violations")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, logs, response.NewPagination(page, perPage, total))
}

// StudentSessionStatus is the proctor's view of one student's session.
type StudentSessionStatus struct {
	Snapshot *model.SessionSnapshot `json:"snapshot"`
	Result   *model.SessionResult   `json:"result"`
}

// GetStudentSession godoc
// GET /api/v1/admin/tests/:test_id/students/:student_id/session
// Returns the last recorded snapshot and, once the session ended, its result.
func (h *MonitorHandler) GetStudentSession(c *gin.Context) {
	testID := strings.TrimSpace(c.Param("test_id"))
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if testID == "" || err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	ctx := c.Request.Context()

	var status StudentSessionStatus
	snap, err := h.feed.GetSnapshot(ctx, testID, studentID)
	switch {
	case err == nil:
		status.Snapshot = snap
	case !errors.Is(err, repository.ErrNotFound):
		h.log.Error().Err(err).Str("test_id", testID).Int("student_id", studentID).Msg("Failed to read snapshot")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	res, err := h.monitorService.GetResult(ctx, testID, studentID)
	switch {
	case err == nil:
		status.Result = res
	case !errors.Is(err, repository.ErrNotFound):
		h.log.Error().Err(err).Str("test_id", testID).Int("student_id", studentID).Msg("Failed to read result")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if status.Snapshot == nil && status.Result == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// ResetStudentLogin godoc
// POST /api/v1/admin/students/:student_id/reset-login
// Drops the student's active login so they can sign in on another device.
func (h *MonitorHandler) ResetStudentLogin(c *gin.Context) {
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if err := h.authService.ResetStudentSession(c.Request.Context(), studentID); err != nil {
		h.log.Error().Err(err).Int("student_id", studentID).Msg("Failed to reset student login")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	h.log.Info().Int("student_id", studentID).Msg("Student login reset")
	response.Success(c, http.StatusOK, gin.H{"student_id": studentID, "reset": true})
}
