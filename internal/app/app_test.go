package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/linkkeeper/internal/config"
	"github.com/JakeFAU/linkkeeper/internal/jobs"
	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/storage/memory"
)

func loadMemoryConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("LINKKEEPER_DATABASE_DRIVER", "memory")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildWithMemoryStore(t *testing.T) {
	cfg := loadMemoryConfig(t)

	a, err := Build(context.Background(), cfg, nil, "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	require.Empty(t, a.Capabilities().List())
	require.NotNil(t, a.Jobs().Drain)
	require.NotNil(t, a.Jobs().Remediate)
	require.NoError(t, a.Migrate(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	sched, err := a.Scheduler()
	require.NoError(t, err)
	names := make([]string, 0, 6)
	for _, e := range sched.Entries() {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{
		"check-links", "process-queue", "remediate-dead",
		"snapshot-critical", "submit-archive", "sync-externallinks",
	}, names)
}

func TestBuildRejectsBadDSN(t *testing.T) {
	cfg := loadMemoryConfig(t)
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "not a dsn"

	_, err := Build(context.Background(), cfg, nil, "test")
	require.ErrorContains(t, err, "link store init failed")
}

func TestBuildLogsCapabilities(t *testing.T) {
	cfg := loadMemoryConfig(t)
	cfg.Archive.AccessKey = "ak"
	cfg.Archive.SecretKey = "sk"
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = t.TempDir()

	core, logs := observer.New(zapcore.InfoLevel)
	a, err := Build(context.Background(), cfg, zap.New(core), "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	require.True(t, a.Capabilities().Has(link.CapabilityArchive))
	require.True(t, a.Capabilities().Has(link.CapabilitySnapshot))

	enabled := logs.FilterMessage("capability enabled").All()
	require.Len(t, enabled, 2)
	missing := logs.FilterMessage("capability unavailable").All()
	require.Len(t, missing, 1)
	require.Equal(t, "remediate", missing[0].ContextMap()["capability"])
	require.Contains(t, missing[0].ContextMap()["hint"], "WIKI_BOT_USER")
}

func TestSchedulerRejectsBadCadence(t *testing.T) {
	cfg := loadMemoryConfig(t)
	cfg.Schedule.Check = "whenever"

	a, err := NewWithStore(cfg, memory.NewLinkStore(), nil)
	require.NoError(t, err)
	_, err = a.Scheduler()
	require.ErrorContains(t, err, "check-links")
}

func TestDiscoverThenDrainThroughAPI(t *testing.T) {
	cfg := loadMemoryConfig(t)
	store := memory.NewLinkStore()
	a, err := NewWithStore(cfg, store, nil)
	require.NoError(t, err)

	body := []byte(`{"document_id": 7, "text": "[http://www.homeofpoi.com/lessons/ Lessons]"}`)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	sum, err := a.Jobs().Drain.Run(context.Background(), jobs.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Succeeded)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats link.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.EqualValues(t, 1, stats.Total)
}

func TestUnavailableTiersReportThemselves(t *testing.T) {
	cfg := loadMemoryConfig(t)
	a, err := NewWithStore(cfg, memory.NewLinkStore(), nil)
	require.NoError(t, err)

	sum, err := a.Jobs().Archive.Run(context.Background(), jobs.Options{})
	require.NoError(t, err)
	require.Equal(t, link.CapabilityArchive, sum.Unavailable)
	require.ErrorIs(t, sum.Err(), jobs.ErrUnavailable)

	sum, err = a.Jobs().Snapshot.Run(context.Background(), jobs.Options{})
	require.NoError(t, err)
	require.Equal(t, link.CapabilitySnapshot, sum.Unavailable)

	sum, err = a.Jobs().Remediate.Run(context.Background(), jobs.Options{})
	require.NoError(t, err)
	require.True(t, sum.DryRun)
}
