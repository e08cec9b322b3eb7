package api

import (
	"errors"
	"io"
	"net/http"

	"vidsplit/config"
	"vidsplit/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

type AddVideosRequest struct {
	Paths []string `json:"paths" binding:"required"`
}

type MoveVideosRequest struct {
	From []int `json:"from" binding:"required"`
	To   *int  `json:"to" binding:"required"`
}

type OutputRequest struct {
	OutputDir *string `json:"outputDir"`
	Prefix    *string `json:"prefix"`
}

type OutputResponse struct {
	OutputDir string `json:"outputDir"`
	Prefix    string `json:"prefix"`
}

type JobRequest struct {
	SegmentSeconds float64 `json:"segmentSeconds"`
}

// handleListVideos lists the input videos in order.
func (h *Handler) handleListVideos(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.Videos())
}

// handleAddVideos appends files to the input list.
func (h *Handler) handleAddVideos(c *gin.Context) {
	var req AddVideosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added := h.taskManager.AddFiles(req.Paths)
	if added == nil {
		added = []task.InputVideo{}
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "videos": h.taskManager.Videos()})
}

func (h *Handler) handleClearVideos(c *gin.Context) {
	h.taskManager.ClearVideos()
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleRemoveVideo(c *gin.Context) {
	if err := h.taskManager.RemoveVideo(c.Param("videoId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleMoveVideos reorders the input list.
func (h *Handler) handleMoveVideos(c *gin.Context) {
	var req MoveVideosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.taskManager.MoveVideos(req.From, *req.To); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.taskManager.Videos())
}

func (h *Handler) handleGetOutput(c *gin.Context) {
	dir, prefix := h.taskManager.Output()
	c.JSON(http.StatusOK, OutputResponse{OutputDir: dir, Prefix: prefix})
}

// handleSetOutput selects the output directory and/or filename prefix.
func (h *Handler) handleSetOutput(c *gin.Context) {
	var req OutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OutputDir != nil {
		if err := h.taskManager.SetOutputDirectory(*req.OutputDir); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Prefix != nil {
		if err := h.taskManager.SetPrefix(*req.Prefix); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.handleGetOutput(c)
}

// handleStartJob validates the work plan and starts processing.
func (h *Handler) handleStartJob(c *gin.Context) {
	var req JobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	j, err := h.taskManager.Submit(req.SegmentSeconds)
	if err != nil {
		var alert *task.Alert
		switch {
		case errors.As(err, &alert):
			// The response carries the alert, so the one-shot slot is spent.
			h.taskManager.TakeAlert()
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "alert": alert})
		case errors.Is(err, task.ErrJobAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": j.ID})
}

// handleGetState returns the current processing state.
func (h *Handler) handleGetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.State())
}

// handleGetJob returns details of the most recent job.
func (h *Handler) handleGetJob(c *gin.Context) {
	j, ok := h.taskManager.CurrentJob()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No job has been started"})
		return
	}
	c.JSON(http.StatusOK, j)
}

// handleStateEvents streams state snapshots as server-sent events.
func (h *Handler) handleStateEvents(c *gin.Context) {
	ch, unsubscribe := h.taskManager.Subscribe()
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("state", s)
			return true
		}
	})
}

// handleCancelJob cancels the running job.
func (h *Handler) handleCancelJob(c *gin.Context) {
	if err := h.taskManager.Cancel(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job cancellation requested"})
}

// handleTakeAlert returns the pending alert once.
func (h *Handler) handleTakeAlert(c *gin.Context) {
	alert, ok := h.taskManager.TakeAlert()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, alert)
}
