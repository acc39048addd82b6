package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"realty_ingest/config"
	"realty_ingest/models"
	"realty_ingest/services"
	"realty_ingest/source"
	"realty_ingest/storage"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<realty-feed>
  <offer internal-id="O-1">
    <location><address>ул. Первая, 1</address><sub-locality-name>Арбат</sub-locality-name></location>
    <price><value>7000000</value></price>
    <area><value>38</value></area>
    <rooms>1</rooms>
  </offer>
  <offer internal-id="O-2">
    <location><address>ул. Вторая, 2</address></location>
    <price><value>9000000</value></price>
    <area><value>52</value></area>
    <kitchen-space><value>16</value></kitchen-space>
    <rooms>2</rooms>
  </offer>
  <offer internal-id="O-3">
    <location><address>ул. Третья, 3</address></location>
  </offer>
</realty-feed>`

type harness struct {
	store *storage.SQLiteStore
	cfg   *config.Config
	orch  *Orchestrator
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Import: config.ImportConfig{ProgressEvery: 1},
		Feeds:  map[string]*config.FeedConfig{},
	}
	h := &harness{store: store, cfg: cfg, dir: dir}
	h.orch = NewOrchestrator(cfg, store, services.NewCatalogService(store), source.Deps{})
	return h
}

func (h *harness) addFeed(t *testing.T, id, body string) *config.FeedConfig {
	t.Helper()
	path := filepath.Join(h.dir, id+".xml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	fc := &config.FeedConfig{ID: id, Name: "Feed " + id, Kind: config.KindFile, Location: path}
	h.cfg.Feeds[id] = fc
	return fc
}

func (h *harness) runs(t *testing.T) []models.ImportRun {
	t.Helper()
	runs, err := h.store.ListImportRuns(10)
	require.NoError(t, err)
	return runs
}

func TestRunFeed_RecordsRun(t *testing.T) {
	h := newHarness(t)
	h.addFeed(t, "main", sampleFeed)

	result, err := h.orch.RunFeed(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 2, result.Parsed)

	runs := h.runs(t)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "main", run.FeedID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Imported)
	assert.Equal(t, 2, run.Parsed)
	require.NotNil(t, run.FinishedAt)

	logs, err := h.store.GetRunLogs(run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "Starting import for Feed main")
	assert.Contains(t, logs[len(logs)-1].Message, "Completed (completed)")

	var progress int
	for _, l := range logs {
		if strings.HasPrefix(l.Message, "Progress:") {
			progress++
		}
	}
	assert.Equal(t, 2, progress)

	assert.False(t, h.orch.IsRunning())
}

func TestRunFeed_MissingFileFailsRun(t *testing.T) {
	h := newHarness(t)
	h.cfg.Feeds["gone"] = &config.FeedConfig{ID: "gone", Name: "gone", Kind: config.KindFile,
		Location: filepath.Join(h.dir, "missing.xml")}

	result, err := h.orch.RunFeed(context.Background(), "gone")
	require.Error(t, err)
	assert.Nil(t, result)

	runs := h.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "missing.xml")
}

func TestRunFeed_UnknownFeed(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.RunFeed(context.Background(), "nope")
	assert.ErrorContains(t, err, "unknown feed")
}

func TestRunFeed_TruncatedFeedIsPartial(t *testing.T) {
	h := newHarness(t)
	cut := strings.Index(sampleFeed, `<offer internal-id="O-2">`)
	h.addFeed(t, "cut", sampleFeed[:cut]+`<offer internal-id="O-2"><price>`)

	result, err := h.orch.RunFeed(context.Background(), "cut")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.True(t, result.Aborted)

	run := h.runs(t)[0]
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.ParseErrors)
	assert.Contains(t, run.ErrorMessage, "O-2")
}

func TestImport_SingleRunGuard(t *testing.T) {
	h := newHarness(t)
	fc := h.addFeed(t, "main", sampleFeed)

	require.True(t, h.orch.acquire())
	_, err := h.orch.Import(context.Background(), fc)
	assert.ErrorIs(t, err, ErrImportRunning)
	assert.ErrorIs(t, h.orch.RunAll(context.Background()), ErrImportRunning)
	h.orch.release()

	_, err = h.orch.Import(context.Background(), fc)
	assert.NoError(t, err)
}

func TestImport_CancelledContext(t *testing.T) {
	h := newHarness(t)
	fc := h.addFeed(t, "main", sampleFeed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.orch.Import(ctx, fc)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, models.RunStatusCancelled, h.runs(t)[0].Status)
}

func TestHandleCommand_PauseResumeAndImport(t *testing.T) {
	h := newHarness(t)
	h.addFeed(t, "a", sampleFeed)
	h.addFeed(t, "b", strings.ReplaceAll(sampleFeed, `internal-id="O-`, `internal-id="B-`))

	require.NoError(t, h.orch.HandleCommand(context.Background(), &models.Command{Command: models.CmdPause}))
	assert.True(t, h.orch.IsPaused())
	require.NoError(t, h.orch.HandleCommand(context.Background(), &models.Command{Command: models.CmdImportNow}))
	assert.Empty(t, h.runs(t))

	require.NoError(t, h.orch.HandleCommand(context.Background(), &models.Command{Command: models.CmdResume}))
	assert.False(t, h.orch.IsPaused())

	require.NoError(t, h.orch.HandleCommand(context.Background(), &models.Command{
		Command: models.CmdImportFeed,
		Params:  []byte(`{"feed":"b"}`),
	}))
	runs := h.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].FeedID)

	require.NoError(t, h.orch.HandleCommand(context.Background(), &models.Command{Command: models.CmdImportNow}))
	assert.Len(t, h.runs(t), 3)

	n, err := h.store.CountOffers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Error(t, h.orch.HandleCommand(context.Background(), &models.Command{Command: "reboot"}))
}

func TestHandleCommand_CancelledContextStopsImport(t *testing.T) {
	h := newHarness(t)
	h.addFeed(t, "main", sampleFeed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.orch.HandleCommand(ctx, &models.Command{
		Command: models.CmdImportFeed,
		Params:  []byte(`{"feed":"main"}`),
	})
	assert.ErrorIs(t, err, context.Canceled)
	runs := h.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCancelled, runs[0].Status)
	assert.NotNil(t, runs[0].FinishedAt)

	assert.ErrorIs(t, h.orch.HandleCommand(ctx, &models.Command{Command: models.CmdImportNow}), context.Canceled)
	assert.Len(t, h.runs(t), 1)

	n, err := h.store.CountOffers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakeLedger struct {
	nextID  int64
	created []models.ImportRun
	updated []models.ImportRun
}

func (f *fakeLedger) CreateImportRun(_ context.Context, run *models.ImportRun) error {
	f.nextID += 100
	run.ID = f.nextID
	f.created = append(f.created, *run)
	return nil
}

func (f *fakeLedger) UpdateImportRun(_ context.Context, run *models.ImportRun) error {
	f.updated = append(f.updated, *run)
	return nil
}

func TestImport_MirrorsRun(t *testing.T) {
	h := newHarness(t)
	fc := h.addFeed(t, "main", sampleFeed)
	mirror := &fakeLedger{}
	h.orch.SetRunMirror(mirror)

	_, err := h.orch.Import(context.Background(), fc)
	require.NoError(t, err)

	require.Len(t, mirror.created, 1)
	require.Len(t, mirror.updated, 1)
	assert.Equal(t, int64(100), mirror.updated[0].ID)
	assert.Equal(t, models.RunStatusCompleted, mirror.updated[0].Status)
	assert.Equal(t, 2, mirror.updated[0].Imported)
	assert.JSONEq(t, `{"offers_processed":2,"districts_created":1,"complexes_created":0,"images":0,
		"euro_layouts":1,"duplicates":0,"parse_errors":0,"errors":0}`, string(mirror.updated[0].Metadata))

	local := h.runs(t)[0]
	assert.NotEqual(t, local.ID, mirror.updated[0].ID)
}

func TestLogFunc_PersistsWithoutRun(t *testing.T) {
	h := newHarness(t)
	h.orch.LogFunc()(models.LogLevelInfo, "stale", "deactivated 3 offers")

	var n int
	require.NoError(t, h.store.DB().Get(&n, `SELECT COUNT(*) FROM import_logs WHERE run_id IS NULL AND feed_id = 'stale'`))
	assert.Equal(t, 1, n)
}
