package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-chain/internal/application/service"
	"github.com/garyjia/approval-chain/internal/application/workflow"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

// defaultRedeliveryLimit caps a redelivery pass when the caller gives no limit
const defaultRedeliveryLimit = 100

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine  workflow.WorkflowEngine
	catalog service.CatalogService
	health  HealthFunc
	logger  Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.WorkflowEngine, catalog service.CatalogService, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		engine:  engine,
		catalog: catalog,
		health:  health,
		logger:  logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// SubmitRequest is the body of POST /api/v1/requests
type SubmitRequest struct {
	SubjectType string `json:"subject_type" binding:"required"`
	SubjectID   string `json:"subject_id" binding:"required"`
	Description string `json:"description"`
	SubmitterID string `json:"submitter_id" binding:"required"`
}

// ApproveRequest is the body of POST /api/v1/requests/:id/approve
type ApproveRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Comment string `json:"comment"`
}

// RejectRequest is the body of POST /api/v1/requests/:id/reject
type RejectRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Reason  string `json:"reason"`
	Comment string `json:"comment"`
}

// TemplateRequest is the body of POST /api/v1/templates
type TemplateRequest struct {
	SubjectType string              `json:"subject_type" binding:"required"`
	Name        string              `json:"name"`
	Levels      []entity.ChainLevel `json:"levels"`
}

// LevelsRequest is the body of PUT /api/v1/templates/:id/levels
type LevelsRequest struct {
	Levels []entity.ChainLevel `json:"levels"`
}

// RedeliverResponse reports a redelivery pass
type RedeliverResponse struct {
	Delivered int `json:"delivered"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.health != nil {
		healthy, details = h.health(c.Request.Context())
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: details,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{
		Success: healthy,
		Data:    response,
	})
}

// SubmitRequest handles POST /api/v1/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequest
	if !h.bind(c, &body) {
		return
	}

	req, err := h.engine.Submit(c.Request.Context(), body.SubjectType, body.SubjectID, body.Description, body.SubmitterID)
	if err != nil {
		h.fail(c, "Failed to submit request", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	detail, err := h.engine.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get request", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: detail})
}

// GetHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	history, err := h.engine.GetHistory(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get history", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// Approve handles POST /api/v1/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body ApproveRequest
	if !h.bind(c, &body) {
		return
	}

	req, err := h.engine.Approve(c.Request.Context(), id, body.ActorID, body.Comment)
	if err != nil {
		h.fail(c, "Failed to approve request", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// Reject handles POST /api/v1/requests/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body RejectRequest
	if !h.bind(c, &body) {
		return
	}

	req, err := h.engine.Reject(c.Request.Context(), id, body.ActorID, body.Reason, body.Comment)
	if err != nil {
		h.fail(c, "Failed to reject request", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	templates, err := h.catalog.ListTemplates(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list templates", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: templates})
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var body TemplateRequest
	if !h.bind(c, &body) {
		return
	}

	template, err := h.catalog.CreateTemplate(c.Request.Context(), body.SubjectType, body.Name, body.Levels)
	if err != nil {
		h.fail(c, "Failed to create template", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: template})
}

// GetTemplate handles GET /api/v1/templates/subject/:subjectType
func (h *Handlers) GetTemplate(c *gin.Context) {
	template, err := h.catalog.GetTemplate(c.Request.Context(), c.Param("subjectType"))
	if err != nil {
		h.fail(c, "Failed to get template", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: template})
}

// UpdateLevels handles PUT /api/v1/templates/:id/levels
func (h *Handlers) UpdateLevels(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var body LevelsRequest
	if !h.bind(c, &body) {
		return
	}

	template, err := h.catalog.UpdateLevels(c.Request.Context(), id, body.Levels)
	if err != nil {
		h.fail(c, "Failed to update levels", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: template})
}

// DeactivateTemplate handles POST /api/v1/templates/:id/deactivate
func (h *Handlers) DeactivateTemplate(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.catalog.Deactivate(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to deactivate template", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// RedeliverCompletions handles POST /api/v1/completions/redeliver?limit=N
func (h *Handlers) RedeliverCompletions(c *gin.Context) {
	limit := defaultRedeliveryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid limit"})
			return
		}
		limit = n
	}

	delivered, err := h.engine.RedeliverPending(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "Failed to redeliver completions", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: RedeliverResponse{Delivered: delivered}})
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handlers) bind(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail writes err with the status its sentinel maps to
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
	}
	if errors.Is(err, domainwf.ErrLockTimeout) {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrIllegalState):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
