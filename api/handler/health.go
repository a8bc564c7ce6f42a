package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/planillas/engine"
	"github.com/use-agent/planillas/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// SessionReporter reports the state of the shared browser session.
// *engine.Supervisor implements it.
type SessionReporter interface {
	Stats() models.SessionStats
}

// Health returns a handler for GET /api/v1/health.
//
// Degraded while no browser session is established. With ?probe=true the
// entry URL is also fetched directly, bypassing the queue, and an
// unreachable site degrades the status too.
func Health(q *engine.Queue, sess SessionReporter, prober *engine.Prober, entryURL string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := models.HealthResponse{
			Status:  "healthy",
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Queue:   q.Stats(),
			Session: sess.Stats(),
			Version: Version,
		}
		if !resp.Session.Connected {
			resp.Status = "degraded"
		}

		if prober != nil && c.Query("probe") == "true" {
			probe := prober.Probe(c.Request.Context(), entryURL)
			resp.Probe = &probe
			if !probe.Reachable {
				resp.Status = "degraded"
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}
