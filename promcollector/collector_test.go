package promcollector

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.RecordResolve(true, time.Millisecond)
	c.RecordResolve(false, time.Millisecond)
	c.RecordResolve(true, time.Millisecond)
	c.RecordPrefetch("tiles", 10, 8, time.Second, nil)
	c.RecordPrefetch("partitions", 5, 0, time.Second, errors.New("nothing cached"))
	c.RecordProtect(3, nil)
	c.RecordProtect(2, errors.New("unresolved"))
	c.RecordRelease(1, nil)
	c.RecordRemove(time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.resolves.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resolves.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.prefetches.WithLabelValues("partitions", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.prefetchItems.WithLabelValues("tiles", "requested")))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.prefetchItems.WithLabelValues("tiles", "cached")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.protection.WithLabelValues("protect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.protection.WithLabelValues("release")))

	n, err := testutil.GatherAndCount(reg, "quadcache_operation_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
}
