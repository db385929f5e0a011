package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"replica/internal/core/apperror"
	"replica/internal/domain/task"
)

// Tasks is the set of supervised tasks of this process. *task.Group implements it.
type Tasks interface {
	Get(name string) (*task.Task, bool)
	Infos() map[string]task.Info
}

// TaskHandler controls local tasks.
type TaskHandler struct {
	tasks Tasks
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(tasks Tasks) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

func (h *TaskHandler) lookup(c *gin.Context) (*task.Task, bool) {
	name := c.Param("name")
	t, ok := h.tasks.Get(name)
	if !ok {
		HandleError(c, apperror.NewNotFound("task", name))
		return nil, false
	}
	return t, true
}

// List handles GET /api/v1/tasks.
func (h *TaskHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.tasks.Infos()})
}

// Get handles GET /api/v1/tasks/:name.
func (h *TaskHandler) Get(c *gin.Context) {
	t, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t.Info())
}

// Ping handles GET /api/v1/tasks/:name/ping.
func (h *TaskHandler) Ping(c *gin.Context) {
	t, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    t.Name(),
		"running": t.Running(),
		"status":  t.Status().String(),
	})
}

// Start handles POST /api/v1/tasks/:name/start.
func (h *TaskHandler) Start(c *gin.Context) {
	t, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := t.Start(); err != nil {
		HandleError(c, controlError(err))
		return
	}
	h.respond(c, t)
}

// Stop handles POST /api/v1/tasks/:name/stop.
func (h *TaskHandler) Stop(c *gin.Context) {
	t, ok := h.lookup(c)
	if !ok {
		return
	}
	t.Stop()
	h.respond(c, t)
}

// Restart handles POST /api/v1/tasks/:name/restart.
func (h *TaskHandler) Restart(c *gin.Context) {
	t, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := t.Restart(); err != nil {
		HandleError(c, controlError(err))
		return
	}
	h.respond(c, t)
}

func (h *TaskHandler) respond(c *gin.Context, t *task.Task) {
	c.JSON(http.StatusOK, gin.H{"name": t.Name(), "status": t.Status().String()})
}

// controlError maps supervisor refusals to a 409.
func controlError(err error) error {
	if errors.Is(err, task.ErrFinished) || errors.Is(err, task.ErrTerminated) {
		return apperror.NewConflict(err.Error())
	}
	return apperror.NewInternal(err)
}
