package api

import (
	"github.com/lysyi3m/rss-relay/app/admin"
	"github.com/lysyi3m/rss-relay/app/tasks"
)

type Handler struct {
	service   *admin.Service
	runner    tasks.Runner
	scheduler tasks.TaskSchedulerInterface
}

type addFeedRequest struct {
	URL string `json:"url" binding:"required"`
}
