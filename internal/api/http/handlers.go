package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/download"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/session"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/config"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions       *session.Store
	orchestrator   *download.Orchestrator
	logger         *logging.Logger
	defaultBackend string
	outputDir      string
	jobs           context.Context

	mu         sync.Mutex
	courses    []backend.Course   // Protected by mu
	coursesFor *session.Handle    // Protected by mu
	selection  download.Selection // Protected by mu
	submitting bool               // Protected by mu
	wg         sync.WaitGroup
}

// Options configures Handlers
type Options struct {
	DefaultBackend string
	OutputDir      string
	// Jobs bounds background downloads; it is cancelled on shutdown
	Jobs context.Context
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *session.Store, orchestrator *download.Orchestrator, logger *logging.Logger, opts Options) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Jobs == nil {
		opts.Jobs = context.Background()
	}
	return &Handlers{
		sessions:       sessions,
		orchestrator:   orchestrator,
		logger:         logger.Named("api"),
		defaultBackend: opts.DefaultBackend,
		outputDir:      opts.OutputDir,
		jobs:           opts.Jobs,
		selection:      orchestrator.LoadSelection(),
	}
}

// Wait blocks until background downloads have finished
func (h *Handlers) Wait() {
	h.wg.Wait()
}

type sessionResponse struct {
	State         string     `json:"state"`
	Username      string     `json:"username,omitempty"`
	Backend       string     `json:"backend,omitempty"`
	UserID        int64      `json:"user_id,omitempty"`
	RemainingDays int        `json:"remaining_days"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Backend  string `json:"backend"`
}

type courseView struct {
	backend.Course
	Selected bool `json:"selected"`
}

// Health handles health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"session":  h.sessions.State().String(),
		"download": h.orchestrator.Current().Status.String(),
	})
}

// GetSession reports the session state
func (h *Handlers) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionView())
}

// Login exchanges credentials for a new session
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	backendURL := strings.TrimSpace(req.Backend)
	if backendURL == "" {
		backendURL = h.defaultBackend
	}
	if err := config.ValidateBackendURL(backendURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.sessions.Login(c.Request.Context(), req.Username, req.Password, backendURL); err != nil {
		h.logger.Info("Login rejected", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	h.courses, h.coursesFor = nil, nil
	h.selection = h.orchestrator.LoadSelection()
	h.mu.Unlock()

	c.JSON(http.StatusOK, h.sessionView())
}

// Logout ends the session
func (h *Handlers) Logout(c *gin.Context) {
	h.sessions.Logout()

	h.mu.Lock()
	h.courses, h.coursesFor = nil, nil
	h.mu.Unlock()

	c.JSON(http.StatusOK, h.sessionView())
}

// ExtendSession pushes the session expiry out to the full validity period
func (h *Handlers) ExtendSession(c *gin.Context) {
	if err := h.sessions.Extend(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessionView())
}

// ListCourses lists enrolled courses matching ?q=
func (h *Handlers) ListCourses(c *gin.Context) {
	courses, err := h.loadCourses(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	filtered := download.Filter(courses, c.Query("q"))

	h.mu.Lock()
	sel := h.selection
	h.mu.Unlock()

	views := make([]courseView, 0, len(filtered))
	for _, course := range filtered {
		views = append(views, courseView{Course: course, Selected: sel.Contains(download.CourseKey(course.ID))})
	}
	c.JSON(http.StatusOK, gin.H{
		"courses":  views,
		"total":    len(courses),
		"selected": len(download.SelectedCourses(courses, sel)),
	})
}

// GetSelection returns the working selection
func (h *Handlers) GetSelection(c *gin.Context) {
	h.mu.Lock()
	sel := h.selection
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"selection": sel})
}

// ToggleSelection flips one course in or out of the selection
func (h *Handlers) ToggleSelection(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "course id must be a positive integer"})
		return
	}

	h.mu.Lock()
	h.selection = download.Toggle(h.selection, download.CourseKey(id))
	sel := h.selection
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"selection": sel})
}

// SelectAll adds every course matching ?q= to the selection
func (h *Handlers) SelectAll(c *gin.Context) {
	courses, err := h.loadCourses(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	h.mu.Lock()
	h.selection = download.SelectAllFiltered(h.selection, download.Filter(courses, c.Query("q")))
	sel := h.selection
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"selection": sel})
}

// ClearSelection empties the selection
func (h *Handlers) ClearSelection(c *gin.Context) {
	h.mu.Lock()
	h.selection = download.ClearSelection()
	sel := h.selection
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"selection": sel})
}

// StartDownload submits the selection as a background download job
func (h *Handlers) StartDownload(c *gin.Context) {
	handle, ok := h.sessions.Current()
	if !ok {
		h.fail(c, session.ErrNoSession)
		return
	}
	courses, err := h.loadCourses(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	h.mu.Lock()
	if h.submitting || h.orchestrator.Current().Status.Active() {
		h.mu.Unlock()
		h.fail(c, download.ErrJobActive)
		return
	}
	sel := h.selection
	selected := download.SelectedCourses(courses, sel)
	if len(selected) == 0 {
		h.mu.Unlock()
		h.fail(c, download.ErrNothingSelected)
		return
	}
	h.submitting = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			h.submitting = false
			h.mu.Unlock()
		}()
		if _, err := h.orchestrator.Submit(h.jobs, handle, courses, sel, nil); err != nil {
			h.logger.Warn("Background download failed", zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "accepted",
		"courses": selected,
	})
}

// CurrentDownload returns the latest job snapshot
func (h *Handlers) CurrentDownload(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Current())
}

// GetArchive serves a finished archive from the output directory
func (h *Handlers) GetArchive(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(strings.ToLower(name), ".zip") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid archive name"})
		return
	}
	path := filepath.Join(h.outputDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
		return
	}
	c.FileAttachment(path, name)
}

// loadCourses returns the course list of the active session, fetching it
// once per session activation
func (h *Handlers) loadCourses(ctx context.Context) ([]backend.Course, error) {
	handle, ok := h.sessions.Current()
	if !ok {
		return nil, session.ErrNoSession
	}

	h.mu.Lock()
	if h.coursesFor == handle {
		courses := h.courses
		h.mu.Unlock()
		return courses, nil
	}
	h.mu.Unlock()

	courses, err := h.orchestrator.LoadCourses(ctx, handle)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.courses, h.coursesFor = courses, handle
	h.mu.Unlock()
	return courses, nil
}

func (h *Handlers) sessionView() sessionResponse {
	handle, ok := h.sessions.Current()
	if !ok {
		return sessionResponse{State: session.StateAbsent.String()}
	}
	resp := sessionResponse{
		State:         session.StateActive.String(),
		Username:      handle.Session.Username,
		Backend:       handle.Session.BackendURL,
		UserID:        handle.Session.UserID,
		RemainingDays: h.sessions.RemainingDays(),
	}
	if expiresAt, ok := h.sessions.ExpiresAt(); ok {
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

// fail maps an error onto a status code and writes it
func (h *Handlers) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, download.ErrJobActive):
		return http.StatusConflict
	case errors.Is(err, download.ErrNothingSelected):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
