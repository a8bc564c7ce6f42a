package scraper

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-rod/rod/lib/cdp"
	"github.com/use-agent/planillas/models"
)

// lostSignatures are matched only when the error carries no typed cause,
// e.g. after crossing a boundary that flattened it to a string.
var lostSignatures = []string{
	"connection closed",
	"use of closed network connection",
}

// IsSessionLost reports whether err means the DevTools connection to the
// browser is gone. A bare context cancellation or deadline never counts: a
// slow site is not a dead session.
func IsSessionLost(err error) bool {
	if err == nil {
		return false
	}
	if models.HasCode(err, models.ErrCodeSessionLost) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, cdp.ErrSessionNotFound):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range lostSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// sessionLost wraps err in the signal the supervisor retries on.
func sessionLost(err error) error {
	if models.HasCode(err, models.ErrCodeSessionLost) {
		return err
	}
	return models.NewScrapeError(models.ErrCodeSessionLost, "browser session lost", err)
}
