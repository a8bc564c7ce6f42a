package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/planillas/engine"
	"github.com/use-agent/planillas/models"
	"github.com/use-agent/planillas/webhook"
)

// batchTTL is how long finished batch jobs stay queryable.
const batchTTL = time.Hour

// batchStore holds all in-flight and completed batch jobs.
var batchStore sync.Map

var batchNotifier = webhook.NewNotifier()

func init() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			expireBatches(time.Now().Add(-batchTTL).Unix())
		}
	}()
}

func expireBatches(cutoff int64) {
	batchStore.Range(func(key, value any) bool {
		if value.(*models.BatchJob).CreatedAt < cutoff {
			batchStore.Delete(key)
		}
		return true
	})
}

// PostBatch returns a handler for POST /api/v1/batch/lookup.
//
// The lookups enter the shared queue in one SubmitAll call, so a batch
// occupies one contiguous run of queue positions in request order. Results
// are collected in the background.
func PostBatch(q *engine.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidInput(c, err)
			return
		}

		lookups := make([]models.LookupRequest, len(req.Lookups))
		for i, l := range req.Lookups {
			n, err := l.Normalize()
			if err != nil {
				invalidInput(c, err)
				return
			}
			lookups[i] = n
		}

		job := models.NewBatchJob("batch-"+uuid.NewString(), len(lookups), time.Now().Unix())
		batchStore.Store(job.ID, job)

		submitted := time.Now()
		results := q.SubmitAll(lookups)
		go collectBatch(job, results, submitted, req.WebhookURL, req.WebhookSecret)

		c.JSON(http.StatusAccepted, models.BatchResponse{
			ID:     job.ID,
			Status: models.BatchProcessing,
			Total:  job.Total,
		})
	}
}

// GetBatch returns a handler for GET /api/v1/batch/:id.
func GetBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := batchStore.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.LookupResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "batch job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*models.BatchJob).Snapshot())
	}
}

// collectBatch waits for each queued lookup in order and records it. The
// queue resolves entries in submission order, so waiting in order never
// blocks on a later entry.
func collectBatch(job *models.BatchJob, results []<-chan engine.Result, submitted time.Time, webhookURL, webhookSecret string) {
	for i, ch := range results {
		res := <-ch
		resp := &models.LookupResponse{
			Outcome: res.Outcome,
			Timing: &models.TimingInfo{
				TotalMs:  time.Since(submitted).Milliseconds(),
				QueuedMs: res.Queued.Milliseconds(),
			},
		}
		if res.Err != nil {
			resp.Error = toDetail(res.Err)
		}
		job.Record(i, resp)
	}

	status := job.Finish()
	snap := job.Snapshot()
	slog.Info("batch job finished",
		"id", job.ID,
		"status", status,
		"total", job.Total,
	)

	if webhookURL != "" {
		batchNotifier.Notify(webhook.Target{URL: webhookURL, Secret: webhookSecret},
			webhook.BatchCompleted(snap, time.Now()))
	}
}
