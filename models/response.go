package models

// LookupResponse is the response for the lookup endpoints. The outcome
// fields are inlined so the body matches what the site scraper has always
// returned: {data, result, remarks, error_message}.
type LookupResponse struct {
	*Outcome

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Timing provides duration breakdowns for the lookup.
	Timing *TimingInfo `json:"timing,omitempty"`

	// Error is populated only when no outcome could be produced.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent on a lookup.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// QueuedMs is the time spent waiting for the shared session.
	QueuedMs int64 `json:"queued_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string       `json:"status"` // "healthy" or "degraded"
	Uptime  string       `json:"uptime"`
	Queue   QueueStats   `json:"queue"`
	Session SessionStats `json:"session"`
	Probe   *ProbeStats  `json:"probe,omitempty"`
	Version string       `json:"version"`
}

// QueueStats reports the state of the serial lookup queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	InFlight  bool  `json:"in_flight"`
	Processed int64 `json:"processed"`
}

// SessionStats reports the state of the shared browser session.
type SessionStats struct {
	Connected  bool   `json:"connected"`
	Reconnects int64  `json:"reconnects"`
	Since      string `json:"since,omitempty"`
}

// ProbeStats reports a direct reachability check of the target site.
type ProbeStats struct {
	Reachable  bool   `json:"reachable"`
	StatusCode int    `json:"status_code,omitempty"`
	Title      string `json:"title,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}
