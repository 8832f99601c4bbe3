package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/romshark/intlbuild/internal/metrics"
)

func TestNewRegisters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.FilesScanned.Add(3)
	m.CatalogWrites.WithLabelValues("de", "ok").Inc()
	require.Equal(t, 3.0, testutil.ToFloat64(m.FilesScanned))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CatalogWrites.WithLabelValues("de", "ok")))

	// Registering the same set twice must fail.
	require.Panics(t, func() { metrics.New(reg) })
}

func TestOrNew(t *testing.T) {
	t.Parallel()
	m := metrics.OrNew(nil)
	require.NotNil(t, m)
	require.Len(t, m.Collectors(), 10)
	require.Same(t, m, metrics.OrNew(m))
}
