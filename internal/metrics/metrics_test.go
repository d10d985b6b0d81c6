// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestObserveToolDefaultsBinaryLabel(t *testing.T) {
	before := counterValue(t, ToolInvocationsTotal.WithLabelValues("unknown", "ok"))
	ObserveTool("", "ok", 10*time.Millisecond)
	after := counterValue(t, ToolInvocationsTotal.WithLabelValues("unknown", "ok"))
	assert.Equal(t, before+1, after)
}

func TestObserveJobAndChain(t *testing.T) {
	jobBefore := counterValue(t, JobsTotal.WithLabelValues("publish", "success"))
	chainBefore := counterValue(t, ChainsTotal.WithLabelValues("completed"))

	ObserveJob("publish", "success", time.Millisecond)
	IncChain("completed")

	assert.Equal(t, jobBefore+1, counterValue(t, JobsTotal.WithLabelValues("publish", "success")))
	assert.Equal(t, chainBefore+1, counterValue(t, ChainsTotal.WithLabelValues("completed")))
}
