package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/planillas/cache"
	"github.com/use-agent/planillas/engine"
	"github.com/use-agent/planillas/models"
)

// Lookup returns a handler for GET / and GET|POST /api/v1/lookup.
//
// Flow:
//  1. Bind query parameters (GET) or the JSON body (POST), normalize.
//  2. Serve from cache when max_age allows it.
//  3. Enqueue and wait for the shared session to get to it.
//  4. Return the outcome with timing. Every outcome, including
//     SCRAPE_FAILED, is a 200; only a missing outcome is an error status.
func Lookup(q *engine.Queue, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var query models.LookupQuery
		var err error
		if c.Request.Method == http.MethodGet {
			err = c.ShouldBindQuery(&query)
		} else {
			err = c.ShouldBindJSON(&query)
		}
		if err != nil {
			invalidInput(c, err)
			return
		}
		req, err := query.LookupRequest.Normalize()
		if err != nil {
			invalidInput(c, err)
			return
		}

		// ── 2. Cache lookup ─────────────────────────────────────────
		var cacheKey, cacheStatus string
		if cc != nil && query.MaxAge > 0 {
			cacheKey = cache.Key(req)
			if cached, hit := cc.Get(cacheKey, query.MaxAge); hit {
				c.JSON(http.StatusOK, models.LookupResponse{
					Outcome:     cached,
					CacheStatus: "hit",
					Timing:      &models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()},
				})
				return
			}
			cacheStatus = "miss"
		}

		// ── 3. Run through the queue ────────────────────────────────
		res, err := q.Do(c.Request.Context(), req)
		timing := &models.TimingInfo{
			TotalMs:  time.Since(totalStart).Milliseconds(),
			QueuedMs: res.Queued.Milliseconds(),
		}
		if err != nil {
			respondError(c, err, timing)
			return
		}

		// ── 4. Respond ──────────────────────────────────────────────
		if cacheKey != "" {
			cc.Set(cacheKey, res.Outcome)
		}
		c.JSON(http.StatusOK, models.LookupResponse{
			Outcome:     res.Outcome,
			CacheStatus: cacheStatus,
			Timing:      timing,
		})
	}
}
