// internal/api/task_handler.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"todocore/internal/middleware"
	"todocore/internal/models"
	"todocore/internal/repository"
	"todocore/internal/service"
	"todocore/pkg/apierrors"
)

type TaskHandler struct {
	tasks *service.TaskService
}

func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// ListResponse is the paginated list envelope.
type ListResponse struct {
	Tasks  []models.Task `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (h *TaskHandler) Create(c *gin.Context) {
	tenantID, ok := tenantFromPath(c)
	if !ok {
		return
	}

	var in models.TaskCreate
	if err := c.ShouldBindJSON(&in); err != nil {
		middleware.RenderError(c, apierrors.New(apierrors.BadRequest, "invalid request body"))
		return
	}

	task, err := h.tasks.Create(c.Request.Context(), tenantID, in)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) List(c *gin.Context) {
	tenantID, ok := tenantFromPath(c)
	if !ok {
		return
	}

	raw := map[string]string{
		"status":          c.Query("status"),
		"priority":        c.Query("priority"),
		"due_date_filter": c.Query("due_date_filter"),
		"search":          c.Query("search"),
		"sort_by":         c.Query("sort_by"),
		"sort_order":      c.Query("sort_order"),
		"limit":           c.Query("limit"),
		"offset":          c.Query("offset"),
	}
	q, err := repository.ParseListQuery(raw, c.QueryArray("tags"))
	if err != nil {
		middleware.RenderError(c, err)
		return
	}

	tasks, total, err := h.tasks.List(c.Request.Context(), tenantID, q)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, ListResponse{Tasks: tasks, Total: total, Limit: q.Limit, Offset: q.Offset})
}

func (h *TaskHandler) Get(c *gin.Context) {
	tenantID, taskID, ok := taskFromPath(c)
	if !ok {
		return
	}

	task, err := h.tasks.Get(c.Request.Context(), tenantID, taskID)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Update(c *gin.Context) {
	tenantID, taskID, ok := taskFromPath(c)
	if !ok {
		return
	}

	var patch models.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		middleware.RenderError(c, apierrors.New(apierrors.BadRequest, "invalid request body"))
		return
	}

	task, err := h.tasks.Update(c.Request.Context(), tenantID, taskID, patch)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Complete(c *gin.Context) {
	tenantID, taskID, ok := taskFromPath(c)
	if !ok {
		return
	}

	task, err := h.tasks.Complete(c.Request.Context(), tenantID, taskID)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Delete(c *gin.Context) {
	tenantID, taskID, ok := taskFromPath(c)
	if !ok {
		return
	}

	if err := h.tasks.Delete(c.Request.Context(), tenantID, taskID); err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task " + taskID.String() + " deleted"})
}

// tenantFromPath reads the tenant id already vetted by the tenant guard.
func tenantFromPath(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		middleware.RenderError(c, apierrors.New(apierrors.BadRequest, "invalid tenant id"))
		return uuid.Nil, false
	}
	return tenantID, true
}

func taskFromPath(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := tenantFromPath(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.RenderError(c, apierrors.New(apierrors.BadRequest, "invalid task id"))
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, taskID, true
}
