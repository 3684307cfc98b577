package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *RunEvent {
	return &RunEvent{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Job:       JobInfo{RunID: "run-1", WMXJobID: 42, ProjectID: "OK_SugarCreek_2008", Passes: 1},
		Units:     UnitSummary{Total: 3, Done: 2, Skipped: 1},
		Outputs: map[string]OutputInfo{
			"contours": {Checksum: "sha256:abc", RowCount: 10, StoragePath: "contours/x.parquet"},
		},
		Producer: ProducerInfo{Name: "contour-builder", Version: "dev"},
	}
}

func TestComputeEventHash(t *testing.T) {
	evt := sampleEvent()
	evt.SetChainHashes("")

	assert.True(t, strings.HasPrefix(evt.Chain.EventHash, "sha256:"))
	assert.Empty(t, evt.Chain.PrevEventHash)

	again := sampleEvent()
	again.SetChainHashes("")
	assert.Equal(t, evt.Chain.EventHash, again.Chain.EventHash)

	linked := sampleEvent()
	linked.SetChainHashes(evt.Chain.EventHash)
	assert.NotEqual(t, evt.Chain.EventHash, linked.Chain.EventHash)
	assert.Equal(t, linked.Chain.EventHash, ComputeEventHash(linked), "hash ignores its own field")
}

func TestChainTrackerPersists(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewChainTracker(dir)
	require.NoError(t, err)

	_, err = tracker.GetHead("p")
	assert.ErrorIs(t, err, ErrNoChainHead)
	require.NoError(t, tracker.SetHead("p", "sha256:1"))

	reopened, err := NewChainTracker(dir)
	require.NoError(t, err)
	head, err := reopened.GetHead("p")
	require.NoError(t, err)
	assert.Equal(t, "sha256:1", head)
}

func TestFileEmitterChainsEvents(t *testing.T) {
	dir := t.TempDir()
	em, err := NewEmitter(Config{Enabled: true, BackupDir: dir})
	require.NoError(t, err)
	defer em.Close()

	first, second := sampleEvent(), sampleEvent()
	require.NoError(t, em.Emit(context.Background(), first))
	require.NoError(t, em.Emit(context.Background(), second))

	assert.Equal(t, EventType, first.EventType)
	assert.NotEqual(t, first.EventID, second.EventID)
	assert.Empty(t, first.Chain.PrevEventHash)
	assert.Equal(t, first.Chain.EventHash, second.Chain.PrevEventHash)

	backup, err := NewFileBackup(dir)
	require.NoError(t, err)
	saved, err := backup.ReadAll()
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, second.Chain.EventHash, saved[1].Chain.EventHash)
}

func TestHTTPEmitterRetries(t *testing.T) {
	var calls atomic.Int32
	var got RunEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	em, err := NewHTTPEmitter(Config{Enabled: true, Endpoint: srv.URL, BackupDir: t.TempDir()})
	require.NoError(t, err)
	em.delay = time.Millisecond

	evt := sampleEvent()
	require.NoError(t, em.Emit(context.Background(), evt))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, evt.Chain.EventHash, got.Chain.EventHash)

	head, err := em.chain.GetHead(evt.ChainKey())
	require.NoError(t, err)
	assert.Equal(t, evt.Chain.EventHash, head)
}

func TestHTTPEmitterFailureKeepsHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	em, err := NewHTTPEmitter(Config{Enabled: true, Endpoint: srv.URL, BackupDir: t.TempDir()})
	require.NoError(t, err)
	em.delay = time.Millisecond

	evt := sampleEvent()
	assert.Error(t, em.Emit(context.Background(), evt))
	_, err = em.chain.GetHead(evt.ChainKey())
	assert.ErrorIs(t, err, ErrNoChainHead)
}

func TestDisabledEmitterIsNoop(t *testing.T) {
	em, err := NewEmitter(Config{})
	require.NoError(t, err)
	evt := sampleEvent()
	require.NoError(t, em.Emit(context.Background(), evt))
	assert.Empty(t, evt.Chain.EventHash)
}
