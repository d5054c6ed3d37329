package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncClaim("notified_3d", "won")
	m.IncClaim("notified_3d", "lost")
	m.IncClaim("notified_3d", "won")
	m.IncReminder("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Claims().WithLabelValues("notified_3d", "won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Claims().WithLabelValues("notified_3d", "lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reminders().WithLabelValues("sent")))
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
