package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/service"
)

// heartbeatInterval keeps intermediaries from closing an idle SSE response.
const heartbeatInterval = 15 * time.Second

// streamTask relays a task's status updates to the browser as SSE. The
// current state is emitted first so a subscriber that arrives after the
// terminal event still gets it; live updates follow. Closing the response
// drops only this listener, never the upstream subscription. project maps
// each update onto the subject's wire event; refresh re-reads the subject's
// current state and is used for terminal events so the emitted payload always
// matches the stored row, and when the live channel closes before this
// listener saw a terminal update.
func streamTask(c *gin.Context, relay *service.StreamRelay, snapshot service.TaskUpdate, project func(service.TaskUpdate) interface{}, refresh func() (service.TaskUpdate, error)) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, cancel := relay.Subscribe(snapshot.TaskID)
	defer cancel()

	// Snapshot first; the live channel was subscribed before this read, so an
	// update between the two is delivered twice at worst, never missed.
	writeEvent(c, flusher, project(snapshot))
	if snapshot.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()

		case update, open := <-updates:
			if !open {
				// Subscription ended; recover the terminal state from the
				// store in case this listener's buffer dropped it.
				final, err := refresh()
				if err != nil {
					logger.CtxWarn(ctx, "Stream refresh after close failed: task_id=%s, error=%v", snapshot.TaskID, err)
					return
				}
				if final.Status.Terminal() {
					writeEvent(c, flusher, project(final))
				}
				return
			}
			if update.Status.Terminal() {
				// Re-read the subject so the final event carries the stored
				// document rather than the raw relay payload.
				if final, err := refresh(); err == nil {
					update = final
				} else {
					logger.CtxWarn(ctx, "Stream refresh on terminal update failed: task_id=%s, error=%v", snapshot.TaskID, err)
				}
				writeEvent(c, flusher, project(update))
				return
			}
			writeEvent(c, flusher, project(update))
		}
	}
}

func writeEvent(c *gin.Context, flusher http.Flusher, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "Failed to encode stream event: error=%v", err)
		return
	}
	fmt.Fprintf(c.Writer, "event: status\ndata: %s\n\n", payload)
	flusher.Flush()
}
