// Package webhook notifies callers when a batch of lookups finishes.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/planillas/models"
)

// SignatureHeader carries the HMAC of the body when a secret is configured.
const SignatureHeader = "X-Planillas-Signature"

// EventBatchCompleted is sent once every lookup of a batch has resolved.
const EventBatchCompleted = "batch.completed"

// Event is the JSON body posted to a callback URL.
type Event struct {
	Type      string                     `json:"type"`
	JobID     string                     `json:"job_id"`
	Timestamp int64                      `json:"timestamp"`
	Data      models.BatchStatusResponse `json:"data"`
}

// BatchCompleted builds the event for a finished batch snapshot.
func BatchCompleted(snap models.BatchStatusResponse, at time.Time) *Event {
	return &Event{
		Type:      EventBatchCompleted,
		JobID:     snap.ID,
		Timestamp: at.Unix(),
		Data:      snap,
	}
}

// Target is a callback URL and the optional secret used to sign bodies
// sent to it.
type Target struct {
	URL    string
	Secret string
}

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: endpoint returned status %d", e.Code)
}

// retryable reports whether another attempt could succeed. Client errors
// other than timeouts and rate limits are final.
func retryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return true
	}
	switch {
	case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooManyRequests:
		return true
	case se.Code >= 400 && se.Code < 500:
		return false
	}
	return true
}

// Notifier posts events to callback URLs.
type Notifier struct {
	client *http.Client
	// backoff holds the wait before each attempt; its length is the
	// attempt budget.
	backoff []time.Duration
}

// NewNotifier returns a Notifier with four attempts spaced 1s, 5s and 30s
// apart.
func NewNotifier() *Notifier {
	return &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Send makes one delivery attempt.
func (n *Notifier) Send(ctx context.Context, t Target, ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Planillas-Webhook/1.0")
	if t.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(t.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Deliver retries Send over the backoff schedule until one attempt
// succeeds, a final status comes back, or ctx ends. It returns the last
// error.
func (n *Notifier) Deliver(ctx context.Context, t Target, ev *Event) error {
	var err error
	for i, wait := range n.backoff {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		log := slog.With("url", t.URL, "event", ev.Type, "job_id", ev.JobID, "attempt", i+1)
		if err = n.Send(ctx, t, ev); err == nil {
			log.Info("webhook delivered")
			return nil
		}
		log.Warn("webhook delivery failed", "error", err)
		if !retryable(err) {
			break
		}
	}
	slog.Error("webhook not delivered", "url", t.URL, "job_id", ev.JobID, "error", err)
	return err
}

// Notify delivers ev in the background.
func (n *Notifier) Notify(t Target, ev *Event) {
	go func() { _ = n.Deliver(context.Background(), t, ev) }()
}
