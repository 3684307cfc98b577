package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngce-pmdm/contour-builder/internal/catalog"
	"github.com/ngce-pmdm/contour-builder/internal/config"
)

func TestDebugRunSkipsCatalog(t *testing.T) {
	cfg := config.Default()
	// nothing listens here; connecting would fail the call
	cfg.Catalog.PostgresDSN = "postgres://cmdr@127.0.0.1:1/cmdr?connect_timeout=1"
	cfg.Catalog.RecordRuns = true

	resolver, recorder, closeCatalog, err := openCatalog(context.Background(), cfg, false)
	require.NoError(t, err)
	defer closeCatalog()

	assert.IsType(t, catalog.StaticResolver{}, resolver)
	assert.IsType(t, catalog.NoopRecorder{}, recorder)

	job, err := resolver.Resolve(context.Background(), cfg.Debug.JobID)
	require.NoError(t, err)
	assert.Equal(t, "OK_SugarCreek_2008", job.ProjectID)
	assert.Equal(t, int64(1), job.WMXJobID)
	assert.Equal(t, cfg.Debug.ProjectDir, job.ProjectDir)
}

func TestJobIDUsesCatalog(t *testing.T) {
	cfg := config.Default()
	cfg.Catalog.PostgresDSN = "postgres://cmdr@127.0.0.1:1/cmdr?connect_timeout=1"

	_, _, _, err := openCatalog(context.Background(), cfg, true)
	assert.Error(t, err, "a supplied job ID goes to the unreachable catalog")
}
