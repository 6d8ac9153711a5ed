package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/worker"
)

func TestDispatcher_CacheRefresh(t *testing.T) {
	catalog := &fakeCatalog{sensors: map[int][]airquality.Sensor{114: {{ID: 642}}}}
	acquirer := &fakeAcquirer{}

	cfg := worker.DefaultRefreshConfig()
	cfg.Targets = []worker.RefreshTarget{{StationID: 114}}
	job := newJob(cfg, catalog, acquirer)

	d := worker.NewDispatcher(job, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), []byte(`{"job_type":"cache_refresh"}`)))

	assert.Equal(t, []int{642}, acquirer.sensorIDs())
	assert.Equal(t, int64(1), job.GetMetrics().TotalRefreshes)
}

func TestDispatcher_CacheRefreshTargetOverride(t *testing.T) {
	acquirer := &fakeAcquirer{}
	job := newJob(worker.DefaultRefreshConfig(), &fakeCatalog{}, acquirer)

	d := worker.NewDispatcher(job, zerolog.Nop())
	err := d.Dispatch(context.Background(), []byte(`{"job_type":"cache_refresh","targets":"117:701,702"}`))
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{701, 702}, acquirer.sensorIDs())
}

func TestDispatcher_CacheRefreshTooManyFailures(t *testing.T) {
	acquirer := &fakeAcquirer{errs: map[int]error{1: airquality.ErrCacheMiss}}
	cfg := worker.DefaultRefreshConfig()
	cfg.Targets = []worker.RefreshTarget{{StationID: 1, SensorIDs: []int{1}}}

	d := worker.NewDispatcher(newJob(cfg, nil, acquirer), zerolog.Nop())
	err := d.Dispatch(context.Background(), []byte(`{"job_type":"cache_refresh"}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many refresh failures")
}

func TestDispatcher_HealthCheck(t *testing.T) {
	catalog := &fakeCatalog{}
	cfg := worker.DefaultRefreshConfig()
	cfg.RefreshStations = false

	d := worker.NewDispatcher(newJob(cfg, catalog, nil), zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), []byte(`{"job_type":"health_check"}`)))
	assert.Equal(t, 1, catalog.stationCalls)

	catalog.stationSource = airquality.SourceCache
	assert.Error(t, d.Dispatch(context.Background(), []byte(`{"job_type":"health_check"}`)))

	noCatalog := worker.NewDispatcher(newJob(cfg, nil, nil), zerolog.Nop())
	assert.Error(t, noCatalog.Dispatch(context.Background(), []byte(`{"job_type":"health_check"}`)))
}

func TestDispatcher_BadMessages(t *testing.T) {
	d := worker.NewDispatcher(newJob(worker.DefaultRefreshConfig(), nil, nil), zerolog.Nop())

	err := d.Dispatch(context.Background(), []byte(`{"job_type":"alerts"}`))
	assert.True(t, errors.Is(err, worker.ErrUnknownJob))

	err = d.Dispatch(context.Background(), []byte(`not json`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, worker.ErrUnknownJob))

	err = d.Dispatch(context.Background(), []byte(`{"job_type":"cache_refresh","targets":"x"}`))
	assert.Error(t, err)
}
