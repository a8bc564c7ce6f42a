package scraper

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestIsTrackerDomain(t *testing.T) {
	assert.True(t, isTrackerDomain("google-analytics.com"))
	assert.True(t, isTrackerDomain("www.Google-Analytics.com"))
	assert.True(t, isTrackerDomain("a.b.googletagmanager.com"))
	assert.False(t, isTrackerDomain("servicio.nuevosoi.com.co"))
	assert.False(t, isTrackerDomain("analytics.com"))
	assert.False(t, isTrackerDomain(""))
}

func TestBlockedSet(t *testing.T) {
	set := blockedSet([]string{"Image", "Font", "Script", "Bogus"})
	assert.Len(t, set, 2)
	assert.Contains(t, set, proto.NetworkResourceTypeImage)
	assert.Contains(t, set, proto.NetworkResourceTypeFont)
	assert.NotContains(t, set, proto.NetworkResourceTypeScript)
}
