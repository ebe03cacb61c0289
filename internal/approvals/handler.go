package approvals

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenderdesk/procurement-backend/internal/auth"
)

type Handler struct {
	definitions *DefinitionService
	lifecycle   *LifecycleService
	ledger      *LedgerService
	overdue     *OverdueMonitor
	stats       *StatsCache
	logger      *zap.Logger
}

func NewHandler(definitions *DefinitionService, lifecycle *LifecycleService, ledger *LedgerService, overdue *OverdueMonitor, stats *StatsCache, logger *zap.Logger) *Handler {
	return &Handler{
		definitions: definitions,
		lifecycle:   lifecycle,
		ledger:      ledger,
		overdue:     overdue,
		stats:       stats,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	wfs := rg.Group("/workflows")
	{
		wfs.POST("", h.CreateWorkflow)
		wfs.GET("", h.ListWorkflows)
		wfs.GET("/:id", h.GetWorkflow)
		wfs.PUT("/:id", h.UpdateWorkflow)
		wfs.POST("/:id/activate", h.Activate)
		wfs.POST("/:id/deactivate", h.Deactivate)
		wfs.POST("/:id/steps", h.AddStep)
		wfs.PUT("/:id/steps/:stepId", h.UpdateStep)
		wfs.DELETE("/:id/steps/:stepId", h.DeleteStep)
	}

	reqs := rg.Group("/requests")
	{
		reqs.POST("", h.CreateRequest)
		reqs.GET("", h.ListRequests)
		reqs.GET("/pending", h.PendingForMe)
		reqs.GET("/overdue", h.Overdue)
		reqs.GET("/:id", h.GetRequest)
		reqs.GET("/:id/actions", h.RequestActions)
		reqs.GET("/:id/audit.pdf", h.AuditPDF)
		reqs.POST("/:id/start", h.StartRequest)
		reqs.POST("/:id/actions", h.ProcessAction)
		reqs.POST("/:id/complete", h.CompleteRequest)
		reqs.POST("/:id/reject", h.RejectRequest)
		reqs.POST("/:id/expire", h.ExpireRequest)
	}

	rg.GET("/actions/mine", h.MyActions)
	rg.GET("/statistics", h.Statistics)
	rg.GET("/statistics/export.xlsx", h.StatisticsExcel)
}

// httpStatus maps engine errors onto HTTP codes. Unknown errors are 500s.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorizedAction), errors.Is(err, ErrActionNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrInvalidState), errors.Is(err, ErrInactiveWorkflow):
		return http.StatusConflict
	case errors.Is(err, ErrApproverResolution):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := h.definitions.CreateWorkflow(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (h *Handler) ListWorkflows(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	wfs, err := h.definitions.ListWorkflows(c.Request.Context(), activeOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wfs)
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	wf, err := h.definitions.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *Handler) UpdateWorkflow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := h.definitions.UpdateWorkflow(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *Handler) Activate(c *gin.Context)   { h.setActive(c, true) }
func (h *Handler) Deactivate(c *gin.Context) { h.setActive(c, false) }

func (h *Handler) setActive(c *gin.Context, active bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	wf, err := h.definitions.SetActive(c.Request.Context(), id, active)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *Handler) AddStep(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req CreateStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := h.definitions.AddStep(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (h *Handler) UpdateStep(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	stepID, err := uuid.Parse(c.Param("stepId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step id"})
		return
	}
	var req CreateStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := h.definitions.UpdateStep(c.Request.Context(), id, stepID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *Handler) DeleteStep(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	stepID, err := uuid.Parse(c.Param("stepId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step id"})
		return
	}
	wf, err := h.definitions.DeleteStep(c.Request.Context(), id, stepID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *Handler) CreateRequest(c *gin.Context) {
	actor, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var in CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := h.lifecycle.CreateRequest(c.Request.Context(), actor, &in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListRequests(c *gin.Context) {
	var filter RequestFilter
	if s := c.Query("status"); s != "" {
		status := RequestStatus(s)
		filter.Status = &status
	}
	if s := c.Query("workflow_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow_id"})
			return
		}
		filter.WorkflowID = &id
	}
	filter.EntityType = c.Query("entity_type")
	filter.EntityID = c.Query("entity_id")

	reqs, err := h.lifecycle.ListRequests(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// PendingForMe lists requests the authenticated user is currently
// empowered to act on.
func (h *Handler) PendingForMe(c *gin.Context) {
	actor, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	status := StatusInProgress
	reqs, err := h.lifecycle.ListRequests(c.Request.Context(), RequestFilter{
		Status:     &status,
		ApproverID: &actor,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) Overdue(c *gin.Context) {
	reqs, err := h.overdue.OverdueRequests(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) GetRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	req, err := h.lifecycle.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) RequestActions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	actions, err := h.ledger.ListByRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (h *Handler) MyActions(c *gin.Context) {
	actor, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	actions, err := h.ledger.ListByApprover(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (h *Handler) StartRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	req, err := h.lifecycle.Start(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) ProcessAction(c *gin.Context) {
	actor, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var in ActionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := h.lifecycle.ProcessAction(c.Request.Context(), id, actor, &in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type completeRequestBody struct {
	Notes string `json:"notes"`
}

func (h *Handler) CompleteRequest(c *gin.Context) {
	actor, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body completeRequestBody
	_ = c.ShouldBindJSON(&body)
	req, err := h.lifecycle.Complete(c.Request.Context(), id, actor, body.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type rejectRequestBody struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) RejectRequest(c *gin.Context) {
	actor, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body rejectRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := h.lifecycle.RejectOverride(c.Request.Context(), id, actor, body.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) ExpireRequest(c *gin.Context) {
	actor, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	req, err := h.lifecycle.Expire(c.Request.Context(), id, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.stats.Compute(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) StatisticsExcel(c *gin.Context) {
	stats, err := h.stats.Compute(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := writeStatisticsWorkbook(stats, &buf); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="approval-statistics.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handler) AuditPDF(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	req, err := h.lifecycle.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	actions, err := h.ledger.ListByRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := writeAuditTrailPDF(req, actions, &buf); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="approval-audit.pdf"`)
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
