package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveTurn("await_choice", false)
	r.ObserveTurn("proceed_suggested", false)
	r.ObserveTurn("proceed_current", true)
	r.ObserveSwitch("asistente_virtual", "tutela", "Sugerencia automática aceptada")
	r.ObserveProcess("tutela", nil, 200*time.Millisecond)
	r.ObserveProcess("tutela", errors.New("boom"), time.Second)
	r.ObserveProcess("tutela", context.DeadlineExceeded, 2*time.Minute)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.turnsTotal.WithLabelValues("await_choice", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.turnsTotal.WithLabelValues("proceed_current", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.switchesTotal.WithLabelValues("tutela", "Sugerencia automática aceptada")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.processTotal.WithLabelValues("tutela", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.processTotal.WithLabelValues("tutela", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.processTotal.WithLabelValues("tutela", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.processDuration))
}

func TestNop(t *testing.T) {
	t.Parallel()
	var r Recorder = Nop{}
	r.ObserveTurn("x", false)
	r.ObserveSwitch("a", "b", "c")
	r.ObserveProcess("a", nil, 0)
}
