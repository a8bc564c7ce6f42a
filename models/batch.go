package models

import "sync"

// BatchRequest is the payload for POST /api/v1/batch/lookup.
type BatchRequest struct {
	// Lookups is the list of queries to run. Required.
	Lookups []LookupRequest `json:"lookups" binding:"required,min=1,max=50,dive"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BatchResponse is the immediate response for POST /api/v1/batch/lookup.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Results   []*LookupResponse `json:"results,omitempty"`
}

// Batch job states.
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchPartial    = "partial"
	BatchFailed     = "failed"
)

// BatchJob tracks an in-progress batch of lookups. Results are written by
// the goroutines waiting on the queue and read by status requests, so all
// access goes through its methods.
type BatchJob struct {
	ID        string
	Total     int
	CreatedAt int64 // unix timestamp

	mu        sync.Mutex
	status    string
	completed int
	failed    int
	results   []*LookupResponse
}

// NewBatchJob creates a job in the processing state.
func NewBatchJob(id string, total int, createdAt int64) *BatchJob {
	return &BatchJob{
		ID:        id,
		Total:     total,
		CreatedAt: createdAt,
		status:    BatchProcessing,
		results:   make([]*LookupResponse, total),
	}
}

// Record stores the response for lookup idx. A response counts as failed
// when it carries an error or a SCRAPE_FAILED outcome.
func (j *BatchJob) Record(idx int, resp *LookupResponse) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[idx] = resp
	j.completed++
	if resp.Error != nil || (resp.Outcome != nil && resp.Outcome.Result == ResultScrapeFailed) {
		j.failed++
	}
}

// Finish derives the final status once every lookup is recorded and
// returns it.
func (j *BatchJob) Finish() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case j.failed == j.Total:
		j.status = BatchFailed
	case j.failed > 0:
		j.status = BatchPartial
	default:
		j.status = BatchCompleted
	}
	return j.status
}

// Snapshot returns a copy safe to serialize while the job runs.
func (j *BatchJob) Snapshot() BatchStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	results := make([]*LookupResponse, len(j.results))
	copy(results, j.results)
	return BatchStatusResponse{
		ID:        j.ID,
		Status:    j.status,
		Completed: j.completed,
		Total:     j.Total,
		Results:   results,
	}
}
