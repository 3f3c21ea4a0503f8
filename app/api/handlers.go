package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-relay/app/admin"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/tasks"
)

func NewHandler(service *admin.Service, runner tasks.Runner, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		service:   service,
		runner:    runner,
		scheduler: scheduler,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "status", "error", err)
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	health["status"] = "ok"
	health["feeds"] = status.Feeds
	health["ledger"] = status.Ledger
	health["state"] = status.State
	if status.LastReport != nil {
		health["last_run"] = status.LastReport
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	feeds, err := h.service.ListFeeds(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if feeds == nil {
		feeds = []database.Feed{}
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) APIAddFeed(c *gin.Context) {
	var req addFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed url", "details": err.Error()})
		return
	}

	added, err := h.service.AddFeed(c.Request.Context(), req.URL)
	if err != nil {
		var notAFeed *admin.NotAFeedError

		switch {
		case errors.Is(err, database.ErrInvalidFeedURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL format"})
		case errors.Is(err, database.ErrDuplicateFeed):
			c.JSON(http.StatusConflict, gin.H{"error": "URL exists in the DB", "details": err.Error()})
		case errors.As(err, &notAFeed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":       "Not a valid RSS or Atom feed",
				"suggestions": notAFeed.Suggestions,
			})
		default:
			slog.Error("Database error", "operation", "add_feed", "url", req.URL, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		}
		return
	}

	c.JSON(http.StatusCreated, added)
}

func (h *Handler) APIRemoveFeed(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feed id"})
		return
	}

	if err := h.service.RemoveFeed(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrFeedNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
			return
		}
		slog.Error("Database error", "operation", "remove_feed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) APICleanupFeeds(c *gin.Context) {
	removed, err := h.service.Cleanup(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "cleanup_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if removed == nil {
		removed = []database.Feed{}
	}

	c.JSON(http.StatusOK, gin.H{
		"removed": removed,
		"total":   len(removed),
	})
}

func (h *Handler) APIRun(c *gin.Context) {
	runTask := tasks.NewRunPipelineTask(h.runner, nil)
	if err := h.scheduler.EnqueueTask(runTask); err != nil {
		slog.Error("Error enqueueing run task", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue run task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":   runTask.ID,
			"type": runTask.Type,
		},
	})
}

func (h *Handler) APIPruneLedger(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days parameter"})
			return
		}
		days = parsed
	}

	removed, err := h.service.Prune(c.Request.Context(), days)
	if err != nil {
		slog.Error("Database error", "operation", "prune_ledger", "days", days, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
