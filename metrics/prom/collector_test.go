package prom

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/remote/remotetest"
	"github.com/c0deZ3R0/listsync/storage/memory"
	"github.com/c0deZ3R0/listsync/synckit"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector(nil)

	c.RecordOperations("create", 3)
	c.RecordOperations("create", 2)
	c.RecordConflicts("itemModified", 1)
	c.RecordSyncErrors("sync", "transient")
	c.RecordSyncErrors("sync", "")
	c.RecordSyncDuration("sync", 120*time.Millisecond)

	assert.Equal(t, float64(5), testutil.ToFloat64(c.operations.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.conflicts.WithLabelValues("itemModified")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.errors.WithLabelValues("sync", "transient")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.errors.WithLabelValues("sync", "other")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestCollector_StateIsOneHot(t *testing.T) {
	c := NewCollector(nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.state.WithLabelValues("idle")))

	c.RecordState(string(synckit.StateSyncing))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.state.WithLabelValues("syncing")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.state.WithLabelValues("idle")))
}

func TestCollector_WiredIntoOrchestrator(t *testing.T) {
	c := NewCollector(nil)
	remoteSnap := &model.Snapshot{Lists: []model.List{{ID: "l1", Name: "Shopping", CreatedAt: time.Now(), ModifiedAt: time.Now()}}}

	o, err := synckit.New(memory.New(), remotetest.New(remoteSnap),
		synckit.WithMetrics(c),
		synckit.WithLogger(logging.Discard().Logger))
	require.NoError(t, err)
	defer o.Close()

	_, err = o.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.operations.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.state.WithLabelValues("idle")))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "listsync_operations_applied_total")
	assert.Contains(t, string(body), "listsync_run_duration_seconds")
}
