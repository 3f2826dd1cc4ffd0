package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/health"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Path: "/metrics", Namespace: "test"})
	require.NoError(t, err)
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil)
		require.NoError(t, err)
		assert.Equal(t, 9464, c.config.Port)
		assert.Equal(t, "volgrid", c.config.Namespace)
		assert.NotNil(t, c.Registry())
	})

	t.Run("disabled collector has no registry", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false})
		require.NoError(t, err)
		assert.Nil(t, c.Registry())

		// Every recorder is a no-op.
		c.RecordLoad("local", time.Millisecond, 10, nil)
		c.RecordCacheHit(CacheFile)
		c.RecordEviction(CacheTree, 3)
		c.UpdateTreeCacheSize(10)
		assert.Empty(t, c.GetMetrics())
	})

	t.Run("nil collector is usable", func(t *testing.T) {
		var c *Collector
		c.RecordLoad("local", time.Millisecond, 10, nil)
		c.RecordCacheMiss(CacheFile)
		c.RecordUnloadSweep(1)
		assert.NoError(t, c.Stop(context.Background()))
	})
}

func TestRecordLoad(t *testing.T) {
	c := newTestCollector(t)

	c.RecordLoad("local", 100*time.Millisecond, 1000, nil)
	c.RecordLoad("local", 200*time.Millisecond, 2000, nil)
	c.RecordLoad("local", 300*time.Millisecond, 3000, errors.NewError(errors.ErrCodeContainerCorrupt, "bad"))
	c.RecordLoad("s3", 10*time.Millisecond, 0, nil)

	ops := c.GetMetrics()["operations"].(map[string]OperationMetrics)
	local := ops["local"]
	assert.Equal(t, int64(3), local.Count)
	assert.Equal(t, int64(6000), local.TotalSize)
	assert.Equal(t, int64(1), local.Errors)
	assert.Equal(t, 2000.0, local.AvgSize)
	assert.Equal(t, 200*time.Millisecond, local.AvgDuration)
	assert.Equal(t, int64(1), ops["s3"].Count)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.loadCounter.WithLabelValues("local", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loadCounter.WithLabelValues("local", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errorCounter.WithLabelValues("load_local", "CONTAINER_CORRUPT")))
}

func TestCacheMetrics(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheHit(CacheFile)
	c.RecordCacheHit(CacheFile)
	c.RecordCacheMiss(CacheFile)
	c.RecordCacheMiss(CacheTree)
	c.RecordEviction(CacheTree, 4)
	c.RecordEviction(CacheTree, 0)
	c.RecordUnloadSweep(2)
	c.UpdateTreeCacheSize(4096)
	c.UpdateCachedHandles(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues(CacheFile, "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues(CacheFile, "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues(CacheTree, "miss")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.cacheEvictions.WithLabelValues(CacheTree)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheEvictions.WithLabelValues(CacheFile)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.unloadSweeps))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.treeCacheBytes))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.cachedHandles))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.NewError(errors.ErrCodeFileNotFound, "x"), "FILE_NOT_FOUND"},
		{fmt.Errorf("wrapped: %w", errors.NewError(errors.ErrCodeGridNotFound, "x")), "GRID_NOT_FOUND"},
		{fmt.Errorf("plain"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyError(tt.err))
	}
}

func TestResetMetrics(t *testing.T) {
	c := newTestCollector(t)
	c.RecordLoad("local", time.Millisecond, 1, nil)
	c.ResetMetrics()
	assert.Empty(t, c.GetMetrics()["operations"])
}

func TestHandler(t *testing.T) {
	c := newTestCollector(t)
	c.RecordLoad("local", 5*time.Millisecond, 512, nil)
	c.RecordCacheHit(CacheFile)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `test_grid_loads_total{source="local",status="success"} 1`)
	assert.Contains(t, body, `test_cache_requests_total{cache="file",type="hit"} 1`)

	code, body = get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "healthy")

	_, body = get("/debug/operations")
	assert.True(t, strings.HasPrefix(body, "Grid Loads"))
	assert.Contains(t, body, "local")
}

func TestHealthHandler_ReportsSources(t *testing.T) {
	c := newTestCollector(t)
	tracker := health.NewTracker(health.TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 2, RecoveryThreshold: 1})
	tracker.RegisterComponent("local")
	c.SetHealth(tracker)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	get := func() (int, string) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get()
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"name":"local"`)

	tracker.RecordError("s3", fmt.Errorf("refused"))
	code, body = get()
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"degraded"`)

	tracker.RecordError("s3", fmt.Errorf("refused"))
	code, body = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "refused")
}
